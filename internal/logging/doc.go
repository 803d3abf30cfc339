// Package logging builds the process-wide slog logger and provides the
// attribute helpers and context plumbing the rest of the codebase uses.
//
// Two output formats exist: "json" for machine consumption and "console",
// a compact single-line renderer that hoists component/job/stage identity
// fields into a prefix and colors levels on TTYs. Job and stage identifiers
// travel via context (WithJobID/WithStage) so stage code never threads
// logging fields by hand.
package logging
