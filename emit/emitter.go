// Package emit provides structured event emission for the Execution Engine
// and Job Manager: per-node pipeline events, job lifecycle events, and
// pluggable sinks (log, buffered/in-memory, OpenTelemetry span, null).
package emit

import "context"

// Emitter receives observability events. Implementations must not block
// execution for long and must be safe for concurrent use: the engine's
// worker pool emits from many goroutines at once.
type Emitter interface {
	// Emit sends a single event. Must not panic; internal failures should
	// be swallowed or logged, never surfaced to the caller.
	Emit(event Event)

	// EmitBatch sends multiple events, preserving their order. Used by the
	// Job Manager when flushing a job's accumulated event log.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been delivered. Safe to
	// call multiple times.
	Flush(ctx context.Context) error
}
