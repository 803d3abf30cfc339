// Package queue persists spin jobs in SQLite and owns the task state machine.
//
// A job moves from PENDING through PROCESSING to SUCCESS or FAILURE, never
// backwards and never out of a terminal state. Claim performs the claim edge
// with a conditional update so duplicate queue deliveries and concurrent
// workers cannot start two runs for one job. Step transitions carry fixed
// progress checkpoints and are guarded to stay monotonic.
//
// The database is transient storage for in-flight and recently finished jobs,
// not an archive. Schema changes bump the version in schema.go; users delete
// the database to adopt the new schema.
package queue
