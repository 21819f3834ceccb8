// Package job implements the Job Manager (C8): asynchronous submission,
// polling, cancellation and listing of Execution Engine runs, with bounded
// in-memory retention and per-job log spill (spec §4.8).
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/emit"
	"github.com/voxlogica-project/voxlogica2/engine"
	"github.com/voxlogica-project/voxlogica2/resolver"
)

// Job kinds. "execute" runs a whole Workplan's goals; "resolve" runs the
// single-node jobs the Value Resolver synthesizes for lazy materialization
// (spec §4.6 "synthesize a single-node job").
const (
	KindExecute = "execute"
	KindResolve = "resolve"
)

// Executor is the narrow Execution Engine capability the Job Manager
// needs. Satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, workplan *dag.Workplan, jobID string) (engine.ExecutionResult, error)
}

// Manager implements submit/get/kill/list over a bounded, in-memory job
// table. It also implements emit.Emitter: wiring order matters — construct
// a Manager, pass it to engine.New via engine.WithEmitter(mgr), then call
// Attach with the resulting Engine. This two-phase init exists because the
// Engine takes its Emitter at construction time while the Manager needs the
// Engine to actually run jobs.
type Manager struct {
	mu          sync.Mutex
	jobs        map[string]*jobEntry
	order       []string // insertion order, oldest first, for FIFO eviction
	nodeJobs    map[dag.NodeId]string
	logDir      string
	maxRetained int
	tailSize    int
	sem         chan struct{}
	exec        Executor
	wg          sync.WaitGroup
}

// NewManager builds a Manager. logDir is where per-job JSONL log files are
// written. Non-positive sizes fall back to sensible defaults.
func NewManager(logDir string, maxRetained, tailSize, maxConcurrentJobs int) *Manager {
	if maxRetained <= 0 {
		maxRetained = 256
	}
	if tailSize <= 0 {
		tailSize = 200
	}
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 4
	}
	return &Manager{
		jobs:        make(map[string]*jobEntry),
		nodeJobs:    make(map[dag.NodeId]string),
		logDir:      logDir,
		maxRetained: maxRetained,
		tailSize:    tailSize,
		sem:         make(chan struct{}, maxConcurrentJobs),
	}
}

// Attach wires the Executor a Manager dispatches jobs to. Must be called
// before Submit/SubmitNode.
func (m *Manager) Attach(exec Executor) { m.exec = exec }

// Submit enqueues workplan as an "execute" job and returns its job id immediately; the
// job runs asynchronously (spec §4.8 "Enqueues and schedules
// asynchronously").
func (m *Manager) Submit(workplan *dag.Workplan) (string, error) {
	return m.submit(KindExecute, workplan, "")
}

// SubmitNode implements resolver.JobSubmitter: it slices workplan down to
// nodeID's transitive closure and submits that as a "resolve"-kind job
// (spec §4.6 "synthesize a single-node job").
func (m *Manager) SubmitNode(_ context.Context, workplan *dag.Workplan, nodeID dag.NodeId) (string, error) {
	sub, err := singleNodeWorkplan(workplan, nodeID)
	if err != nil {
		return "", err
	}
	return m.submit(KindResolve, sub, nodeID)
}

// NodeJobStatus implements resolver.JobSubmitter.
func (m *Manager) NodeJobStatus(nodeID dag.NodeId) (resolver.JobStatus, string, bool) {
	m.mu.Lock()
	jobID, ok := m.nodeJobs[nodeID]
	m.mu.Unlock()
	if !ok {
		return "", "", false
	}
	rec, ok := m.Get(jobID)
	if !ok || rec.terminal() {
		return "", "", false
	}
	if rec.Status == StatusRunning {
		return resolver.JobRunning, jobID, true
	}
	return resolver.JobPending, jobID, true
}

func (m *Manager) submit(kind string, workplan *dag.Workplan, targetNode dag.NodeId) (string, error) {
	if m.exec == nil {
		return "", fmt.Errorf("job: Manager.Attach was never called")
	}
	id := uuid.NewString()
	now := time.Now()

	logFile, logEmitter, err := openJobLog(m.logDir, id)
	if err != nil {
		return "", err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{
		record:     Record{ID: id, Kind: kind, Status: StatusPending, CreatedAt: now, UpdatedAt: now},
		workplan:   workplan,
		targetNode: targetNode,
		cancel:     cancel,
		tail:       newTailBuffer(m.tailSize),
		logFile:    logFile,
		logEmitter: logEmitter,
	}

	m.mu.Lock()
	m.jobs[id] = entry
	m.order = append(m.order, id)
	if targetNode != "" {
		m.nodeJobs[targetNode] = id
	}
	m.evictLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(jobCtx, entry)
	return id, nil
}

func (m *Manager) run(ctx context.Context, e *jobEntry) {
	defer m.wg.Done()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.finish(e, StatusKilled, nil, ctx.Err())
		return
	}
	defer func() { <-m.sem }()

	e.mu.Lock()
	e.record.Status = StatusRunning
	e.record.UpdatedAt = time.Now()
	e.mu.Unlock()

	result, err := m.exec.Execute(ctx, e.workplan, e.record.ID)
	_ = e.logFile.Close()

	switch {
	case err == nil:
		m.finish(e, StatusCompleted, &result, nil)
	case result.Killed:
		m.finish(e, StatusKilled, &result, err)
	default:
		m.finish(e, StatusFailed, &result, err)
	}
}

func (m *Manager) finish(e *jobEntry, status Status, result *engine.ExecutionResult, err error) {
	e.mu.Lock()
	e.record.Status = status
	e.record.UpdatedAt = time.Now()
	e.record.Result = result
	if err != nil {
		e.record.Error = err.Error()
	}
	target := e.targetNode
	jobID := e.record.ID
	e.mu.Unlock()

	if target != "" {
		m.mu.Lock()
		if m.nodeJobs[target] == jobID {
			delete(m.nodeJobs, target)
		}
		m.mu.Unlock()
	}
}

// Get returns a snapshot of jobID's current record, including its log tail.
func (m *Manager) Get(jobID string) (Record, bool) {
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	return e.snapshot(), true
}

// Kill cooperatively cancels jobID and returns its record (which may still
// be non-terminal immediately after the call — cancellation is cooperative,
// spec §4.5 "in-flight nodes are allowed to finish").
func (m *Manager) Kill(jobID string) (Record, bool) {
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	e.cancel()
	return e.snapshot(), true
}

// List returns every retained job, optionally filtered by kind, oldest
// first.
func (m *Manager) List(kind string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		e, ok := m.jobs[id]
		if !ok {
			continue
		}
		if kind != "" && e.record.Kind != kind {
			continue
		}
		out = append(out, e.snapshot())
	}
	return out
}

// evictLocked removes the oldest *terminal* job once the retained count
// exceeds maxRetained (spec §4.8 "older terminal jobs are evicted FIFO").
// Non-terminal jobs are never evicted regardless of age.
func (m *Manager) evictLocked() {
	for len(m.order) > m.maxRetained {
		idx := -1
		for i, id := range m.order {
			if e, ok := m.jobs[id]; ok && e.terminal() {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		id := m.order[idx]
		m.order = append(m.order[:idx], m.order[idx+1:]...)
		delete(m.jobs, id)
	}
}

// Emit implements emit.Emitter, demultiplexing engine events to the job
// they belong to by JobID.
func (m *Manager) Emit(event emit.Event) {
	m.mu.Lock()
	e, ok := m.jobs[event.JobID]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.tail.push(event)
	if e.logEmitter != nil {
		e.logEmitter.Emit(event)
	}
	e.mu.Unlock()
}

// EmitBatch implements emit.Emitter.
func (m *Manager) EmitBatch(_ context.Context, events []emit.Event) error {
	for _, ev := range events {
		m.Emit(ev)
	}
	return nil
}

// Flush implements emit.Emitter; job log files are written synchronously
// on Emit, so there is nothing to flush.
func (m *Manager) Flush(_ context.Context) error { return nil }

// singleNodeWorkplan builds the minimal closed Workplan containing target's
// transitive dependency closure plus a single print goal for target.
func singleNodeWorkplan(wp *dag.Workplan, target dag.NodeId) (*dag.Workplan, error) {
	b := dag.NewWorkplanBuilder()
	visited := make(map[dag.NodeId]bool)

	var visit func(id dag.NodeId) error
	visit = func(id dag.NodeId) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		op, ok := wp.Operation(id)
		if !ok {
			return fmt.Errorf("job: node %s not found in workplan", id)
		}
		for _, arg := range op.Arguments {
			if err := visit(arg); err != nil {
				return err
			}
		}
		b.Intern(id, op)
		return nil
	}

	if err := visit(target); err != nil {
		return nil, err
	}
	if err := b.AddGoal(dag.GoalPrint, string(target), target); err != nil {
		return nil, err
	}
	return b.Freeze()
}
