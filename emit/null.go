package emit

import "context"

// NullEmitter implements Emitter by discarding all events. Useful for tests
// and for production deployments where event emission overhead is
// unwanted.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}

// EmitBatch discards all events.
func (n *NullEmitter) EmitBatch(ctx context.Context, events []Event) error { return nil }

// Flush is a no-op.
func (n *NullEmitter) Flush(ctx context.Context) error { return nil }
