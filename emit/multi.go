package emit

import "context"

// MultiEmitter fans an event out to every configured Emitter (the teacher's
// tracing example wires a buffered and a log emitter together the same
// way). Used to send job-log events and OpenTelemetry spans off the same
// event stream without the engine knowing about either concern directly.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates a MultiEmitter delivering every event to each of
// emitters, in order.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit fans event out to every configured emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

// EmitBatch fans events out to every configured emitter, returning the
// first error encountered (after still offering the batch to the rest).
func (m *MultiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.EmitBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Flush flushes every configured emitter, returning the first error
// encountered (after still flushing the rest).
func (m *MultiEmitter) Flush(ctx context.Context) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
