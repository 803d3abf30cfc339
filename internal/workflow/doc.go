// Package workflow coordinates background processing of spin jobs.
//
// The Manager runs a bounded worker pool. Each worker blocks on the broker,
// claims the delivered job (PENDING to PROCESSING, exactly once), and drives
// it through the stage sequence, persisting step and progress checkpoints
// between stages. Cancellation is honored at stage boundaries; a stage
// already mid-flight finishes but its result is never published.
package workflow
