package job

import (
	"context"
	"os"
	"sync"

	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/emit"
)

// jobEntry is a single job's mutable state: the public Record plus the
// bookkeeping (cancel func, log file, rolling tail) Record itself doesn't
// carry.
type jobEntry struct {
	mu         sync.Mutex
	record     Record
	workplan   *dag.Workplan
	targetNode dag.NodeId // set only for "resolve"-kind jobs
	cancel     context.CancelFunc
	tail       *tailBuffer
	logFile    *os.File
	logEmitter *emit.LogEmitter
}

func (e *jobEntry) snapshot() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.record
	r.LogTail = e.tail.snapshot()
	return r
}

func (e *jobEntry) terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.terminal()
}
