// Package engine implements the Execution Engine (C6): topological,
// dependency-ready scheduling of a Workplan over a bounded worker pool,
// with content-store cache lookup and work-coordinator deduplication on
// every node (spec §4.5).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlogica-project/voxlogica2/coordinator"
	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/emit"
	"github.com/voxlogica-project/voxlogica2/registry"
	"github.com/voxlogica-project/voxlogica2/store"
)

// CacheSummary tallies how every node in a run resolved, per spec §4.5
// "ExecutionResult ... a cache summary".
type CacheSummary struct {
	Computed     int
	CachedStore  int
	CachedLocal  int
	Failed       int
	EventsStored int
	EventsTotal  int
}

// GoalOutcome is one Workplan goal's terminal observation.
type GoalOutcome struct {
	Goal  dag.Goal
	Error string // empty on success
}

// ExecutionResult is the full return value of Execute (spec §4.5).
type ExecutionResult struct {
	Goals    []GoalOutcome
	Summary  CacheSummary
	Events   []emit.Event
	NodeErrs map[dag.NodeId]string
	Killed   bool
}

// Engine runs Workplans against a shared Content Store, Work Coordinator
// and Operator Registry.
type Engine struct {
	contentStore store.Store
	coord        *coordinator.Coordinator
	reg          *registry.Registry
	cfg          engineConfig
}

// New builds an Engine. st and reg are required; every other dependency
// has a zero-value-safe default applied by the Option set.
func New(st store.Store, reg *registry.Registry, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.metrics == nil {
		cfg.metrics = noopMetrics()
	}
	return &Engine{
		contentStore: st,
		coord:        coordinator.New(),
		reg:          reg,
		cfg:          cfg,
	}, nil
}

// nodeState tracks one node's scheduling bookkeeping for a single Execute
// call: how many of its dependencies remain unresolved, and whether it has
// already been poisoned by a failed dependency.
type nodeState struct {
	id           dag.NodeId
	op           dag.Operation
	dependents   []dag.NodeId
	pending      int
	poisoned     bool
	poisonReason string
}

// Execute runs workplan to completion, honoring ctx for cooperative
// cancellation (spec §4.5 "Cancellation & timeouts").
func (e *Engine) Execute(ctx context.Context, workplan *dag.Workplan, jobID string) (ExecutionResult, error) {
	if e.cfg.runWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.runWallClockBudget)
		defer cancel()
	}

	ids := workplan.Operations()
	states := make(map[dag.NodeId]*nodeState, len(ids))
	for _, id := range ids {
		op, _ := workplan.Operation(id)
		states[id] = &nodeState{id: id, op: op}
	}
	// Walk ids in insertion order so each node's dependents slice — and
	// therefore the order markTerminal readies them in — is deterministic
	// rather than an artifact of map iteration (spec §4.5 "Ordering and
	// tie-breaks").
	for _, id := range ids {
		st := states[id]
		for _, dep := range st.op.Arguments {
			states[dep].dependents = append(states[dep].dependents, id)
			st.pending++
		}
	}

	result := ExecutionResult{NodeErrs: make(map[dag.NodeId]string)}
	var (
		mu       sync.Mutex
		events   []emit.Event
		step     int
		wg       sync.WaitGroup
		sem      = make(chan struct{}, e.cfg.maxConcurrent)
		terminal = make(map[dag.NodeId]bool, len(states))
	)

	appendEvent := func(ev emit.Event) {
		mu.Lock()
		step++
		ev.JobID = jobID
		ev.Step = step
		ev.Timestamp = eventTime()
		if len(events) < e.cfg.queueDepth {
			events = append(events, ev)
			result.Summary.EventsStored++
		}
		result.Summary.EventsTotal++
		mu.Unlock()
		e.cfg.emitter.Emit(ev)
	}

	tally := func(status emit.Status) {
		mu.Lock()
		switch status {
		case emit.StatusComputed:
			result.Summary.Computed++
		case emit.StatusCachedStore:
			result.Summary.CachedStore++
		case emit.StatusCachedLocal:
			result.Summary.CachedLocal++
		case emit.StatusFailed:
			result.Summary.Failed++
		}
		mu.Unlock()
	}

	var schedule func(id dag.NodeId)
	var dispatch func(st *nodeState)

	markTerminal := func(id dag.NodeId) {
		mu.Lock()
		already := terminal[id]
		terminal[id] = true
		mu.Unlock()
		if already {
			return
		}
		for _, dep := range states[id].dependents {
			mu.Lock()
			states[dep].pending--
			ready := states[dep].pending <= 0
			mu.Unlock()
			if ready {
				schedule(dep)
			}
		}
	}

	poisonSubtree := func(st *nodeState, reason string) {
		st.poisoned = true
		st.poisonReason = reason
		mu.Lock()
		result.NodeErrs[st.id] = reason
		mu.Unlock()
		appendEvent(emit.Event{NodeID: string(st.id), Operator: st.op.Operator, NodeStatus: emit.StatusSkipped, Msg: reason})
		markTerminal(st.id)
	}

	schedule = func(id dag.NodeId) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		st := states[id]
		for _, dep := range st.op.Arguments {
			if states[dep].poisoned {
				poisonSubtree(st, fmt.Sprintf("dependency %s failed", dep))
				return
			}
		}
		e.cfg.metrics.QueueDepth.Inc()
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				e.cfg.metrics.QueueDepth.Dec()
				return
			}
			e.cfg.metrics.QueueDepth.Dec()
			defer func() { <-sem }()
			dispatch(st)
		}()
	}

	dispatch = func(st *nodeState) {
		e.cfg.metrics.InflightNodes.Inc()
		defer e.cfg.metrics.InflightNodes.Dec()

		nodeID := string(st.id)

		rec, err := e.contentStore.Get(ctx, nodeID, e.cfg.runtimeVersion)
		if err == nil {
			status := e.resolveFromRecord(st, rec, appendEvent)
			tally(status)
			if status == emit.StatusFailed {
				mu.Lock()
				result.NodeErrs[st.id] = rec.Error
				mu.Unlock()
			}
			markTerminal(st.id)
			return
		}

		kind, future := e.coord.Acquire(st.id)
		if kind == coordinator.KindWait {
			outcome, err := future.Wait(ctx)
			if err != nil {
				// This waiter's own wait was cancelled, not necessarily the
				// whole job — e.g. the Resolver's single-node enqueue path
				// carries a context distinct from the computation it is
				// waiting on. CancelWaiter reports whether we were the last
				// remaining demand for a still-local computation and, if so,
				// has already cancelled it (spec §4.4).
				e.coord.CancelWaiter(st.id)
				poisonSubtree(st, "cancelled while waiting")
				return
			}
			status := e.applyOutcome(st, outcome, appendEvent)
			tally(status)
			if status == emit.StatusFailed {
				mu.Lock()
				if outcome.Err != nil {
					result.NodeErrs[st.id] = outcome.Err.Error()
				}
				mu.Unlock()
			}
			markTerminal(st.id)
			return
		}

		nodeCtx, cancelNode := context.WithCancel(ctx)
		defer cancelNode()
		e.coord.SetLocalCancel(st.id, cancelNode)

		computeResult := e.computeNode(nodeCtx, st)
		e.cfg.metrics.StepLatency.Observe(float64(computeResult.duration.Milliseconds()))
		e.coord.MarkHandedOff(st.id)
		e.coord.Release(st.id, coordinator.Outcome{Status: string(computeResult.status), Err: computeResult.err})

		switch computeResult.status {
		case store.StatusMaterialized:
			appendEvent(emit.Event{NodeID: nodeID, Operator: st.op.Operator, NodeStatus: emit.StatusComputed, Duration: computeResult.duration})
			tally(emit.StatusComputed)
		case store.StatusKilled:
			// Cancelled mid-dispatch: not a domain failure, nothing persisted.
			st.poisoned = true
			appendEvent(emit.Event{NodeID: nodeID, Operator: st.op.Operator, NodeStatus: emit.StatusSkipped, Duration: computeResult.duration, Msg: "cancelled"})
		default:
			st.poisoned = true
			msg := ""
			if computeResult.err != nil {
				msg = computeResult.err.Error()
			}
			mu.Lock()
			result.NodeErrs[st.id] = msg
			mu.Unlock()
			appendEvent(emit.Event{NodeID: nodeID, Operator: st.op.Operator, NodeStatus: emit.StatusFailed, Duration: computeResult.duration, Meta: map[string]interface{}{"error": msg}})
			tally(emit.StatusFailed)
		}
		markTerminal(st.id)
	}

	roots := make([]dag.NodeId, 0)
	for _, id := range ids {
		if states[id].pending == 0 {
			roots = append(roots, id)
		}
	}
	for _, id := range roots {
		schedule(id)
	}
	wg.Wait()

	result.Events = events
	for _, g := range workplan.Goals() {
		msg := ""
		if nodeErr, ok := result.NodeErrs[g.Target]; ok {
			msg = nodeErr
		}
		result.Goals = append(result.Goals, GoalOutcome{Goal: g, Error: msg})
	}
	if ctx.Err() != nil {
		result.Killed = true
		return result, &EngineError{Message: "execution cancelled", Code: "ENGINE_CANCELLED", Cause: ctx.Err()}
	}
	return result, nil
}

// eventTime is a seam so tests can stub the clock; production uses the
// real wall clock.
var eventTime = time.Now

type nodeComputeResult struct {
	status   store.Status
	err      error
	duration time.Duration
}

// resolveFromRecord translates an existing Store record directly into a
// terminal node outcome without invoking the Coordinator, covering spec
// §4.5 pipeline step 1. It returns the emit.Status the caller should tally.
func (e *Engine) resolveFromRecord(st *nodeState, rec store.Record, appendEvent func(emit.Event)) emit.Status {
	nodeID := string(st.id)
	switch rec.Status {
	case store.StatusMaterialized:
		e.cfg.metrics.CacheHitTotal.WithLabelValues("store").Inc()
		appendEvent(emit.Event{NodeID: nodeID, Operator: st.op.Operator, NodeStatus: emit.StatusCachedStore, CacheSource: "store"})
		return emit.StatusCachedStore
	default:
		st.poisoned = true
		st.poisonReason = rec.Error
		appendEvent(emit.Event{NodeID: nodeID, Operator: st.op.Operator, NodeStatus: emit.StatusFailed, CacheSource: "store", Meta: map[string]interface{}{"error": rec.Error}})
		return emit.StatusFailed
	}
}

// applyOutcome translates a resolved coordinator.Outcome (another
// goroutine's in-flight computation) into the same terminal effects as
// resolveFromRecord, distinguishing the cache_source as process-local.
func (e *Engine) applyOutcome(st *nodeState, outcome coordinator.Outcome, appendEvent func(emit.Event)) emit.Status {
	nodeID := string(st.id)
	if outcome.Status == string(store.StatusFailed) || outcome.Status == string(store.StatusKilled) {
		st.poisoned = true
		msg := ""
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		st.poisonReason = msg
		appendEvent(emit.Event{NodeID: nodeID, Operator: st.op.Operator, NodeStatus: emit.StatusFailed, CacheSource: "local", Meta: map[string]interface{}{"error": msg}})
		return emit.StatusFailed
	}
	e.cfg.metrics.CacheHitTotal.WithLabelValues("local").Inc()
	appendEvent(emit.Event{NodeID: nodeID, Operator: st.op.Operator, NodeStatus: emit.StatusCachedLocal, CacheSource: "local"})
	return emit.StatusCachedLocal
}

// computeNode implements spec §4.5 pipeline steps 2-4 for the computing
// goroutine: acquire a Store lease (repolling on contention), gather
// dependency values, dispatch the registered operator, and commit the
// result.
func (e *Engine) computeNode(ctx context.Context, st *nodeState) nodeComputeResult {
	nodeID := string(st.id)
	owner := uuid.NewString()

	var lease *store.Lease
	for {
		result, l, err := e.contentStore.BeginCompute(ctx, nodeID, e.cfg.runtimeVersion, owner)
		if err != nil {
			return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "store BeginCompute failed", Cause: err}}
		}
		switch result {
		case store.ResultLease:
			lease = l
		case store.ResultAlreadyComputed, store.ResultAlreadyFailed:
			rec, err := e.contentStore.Get(ctx, nodeID, e.cfg.runtimeVersion)
			if err != nil {
				return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "store Get failed after contested BeginCompute", Cause: err}}
			}
			return nodeComputeResult{status: rec.Status, err: errFromRecord(rec)}
		case store.ResultContested:
			e.cfg.metrics.LeasesContested.Inc()
			select {
			case <-ctx.Done():
				return nodeComputeResult{status: store.StatusKilled, err: ctx.Err()}
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		break
	}

	if isConstantOperator(st.op.Operator) {
		value, err := decodeConstantValue(st.op)
		if err != nil {
			_ = lease.Abandon(ctx)
			return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "failed to decode literal node", Cause: err}}
		}
		payload, err := codecEncode(value)
		if err != nil {
			_ = lease.Abandon(ctx)
			return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "failed to encode literal value", Cause: err}}
		}
		if err := lease.Commit(ctx, store.StatusMaterialized, payload, ""); err != nil {
			return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "commit of materialized literal failed", Cause: err}}
		}
		return nodeComputeResult{status: store.StatusMaterialized}
	}

	op, err := e.reg.Lookup(st.op.Operator)
	if err != nil {
		_ = lease.Abandon(ctx)
		return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "unknown operator", Cause: err}}
	}

	args, err := e.decodeArguments(ctx, st.op.Arguments)
	if err != nil {
		_ = lease.Abandon(ctx)
		return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "failed to decode dependency values", Cause: err}}
	}

	dispatchCtx := registry.Context{Context: ctx, ScratchDir: "", Logger: nopLogger{}, AllowedRoots: e.cfg.allowedRoots}
	if e.cfg.defaultNodeTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx.Context, cancel = context.WithTimeout(ctx, e.cfg.defaultNodeTimeout)
		defer cancel()
	}

	start := time.Now()
	value, callErr := op.Call(dispatchCtx, args)
	duration := time.Since(start)

	if callErr != nil {
		if ctx.Err() != nil {
			// The job itself was cancelled mid-dispatch: this is not an
			// operator domain error, it is an abandoned in-flight
			// computation (spec §4.5 "no partial store writes").
			_ = lease.Abandon(ctx)
			return nodeComputeResult{status: store.StatusKilled, err: ctx.Err(), duration: duration}
		}
		if errors.Is(callErr, registry.ErrPathNotAllowed) {
			// Policy errors are rejected synchronously, not persisted as a
			// failed domain record (spec §7 "Policy"): the path was never
			// contained in the configured roots, so there is nothing
			// node-specific to cache.
			_ = lease.Abandon(ctx)
			return nodeComputeResult{status: store.StatusFailed, err: &PolicyError{Message: callErr.Error(), NodeID: nodeID, Cause: callErr}, duration: duration}
		}

		opErr := &OperatorError{Message: callErr.Error(), NodeID: nodeID, Cause: callErr}
		e.cfg.metrics.NodesFailedTotal.Inc()
		if commitErr := lease.Commit(ctx, store.StatusFailed, nil, opErr.Error()); commitErr != nil {
			return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "commit of failed record errored", Cause: commitErr}, duration: duration}
		}
		return nodeComputeResult{status: store.StatusFailed, err: opErr, duration: duration}
	}

	payload, err := codecEncode(value)
	if err != nil {
		_ = lease.Abandon(ctx)
		return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "failed to encode result value", Cause: err}, duration: duration}
	}

	if err := lease.Commit(ctx, store.StatusMaterialized, payload, ""); err != nil {
		return nodeComputeResult{status: store.StatusFailed, err: &EngineError{Message: "commit of materialized record failed", Cause: err}, duration: duration}
	}
	return nodeComputeResult{status: store.StatusMaterialized, duration: duration}
}

func errFromRecord(rec store.Record) error {
	if rec.Status == store.StatusMaterialized {
		return nil
	}
	return &OperatorError{Message: rec.Error, NodeID: rec.NodeID}
}

type nopLogger struct{}

func (nopLogger) Log(msg string, fields map[string]any) {}
