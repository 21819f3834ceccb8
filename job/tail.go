package job

import "github.com/voxlogica-project/voxlogica2/emit"

// tailBuffer is a bounded rolling window over the most recent events
// emitted for a job, mirroring the teacher's buffered-emitter idiom
// (accumulate, snapshot under lock) scaled down to a fixed-size tail
// instead of unbounded per-job history.
type tailBuffer struct {
	cap   int
	items []emit.Event
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (t *tailBuffer) push(ev emit.Event) {
	t.items = append(t.items, ev)
	if over := len(t.items) - t.cap; over > 0 {
		t.items = t.items[over:]
	}
}

func (t *tailBuffer) snapshot() []emit.Event {
	out := make([]emit.Event, len(t.items))
	copy(out, t.items)
	return out
}
