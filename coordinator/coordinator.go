// Package coordinator implements the Work Coordinator (C5): intra-process
// deduplication of concurrent demand for the same node (spec §4.4).
package coordinator

import (
	"context"
	"sync"

	"github.com/voxlogica-project/voxlogica2/dag"
)

// Kind is the result of Acquire: whether the caller must compute the node
// or merely wait for another goroutine's in-flight computation.
type Kind int

const (
	KindCompute Kind = iota
	KindWait
)

// Outcome is what a computation eventually resolves its Future with.
type Outcome struct {
	Status string // mirrors store.Status values: "materialized", "failed", "killed"
	Err    error
}

// Future is the shared completion handle every caller for a given NodeId
// after the first receives. It resolves exactly once.
type Future struct {
	done chan struct{}

	mu      sync.Mutex
	outcome Outcome
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Resolve completes the future exactly once; subsequent calls are no-ops.
// Only the goroutine that received KindCompute may call this.
func (f *Future) Resolve(outcome Outcome) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return
	default:
	}
	f.outcome = outcome
	close(f.done)
	f.mu.Unlock()
}

// entry tracks the in-flight state for one NodeId: the shared future plus
// a count of live waiters, used to decide whether cancelling the last
// waiter may also cancel a still-local computation (spec §4.4).
type entry struct {
	future      *Future
	waiters     int
	handedOff   bool // true once the computation has been dispatched to a worker
	localCancel context.CancelFunc
}

// Coordinator deduplicates concurrent Acquire calls for the same NodeId
// within one process. It is guarded by a single mutex around its in-flight
// map, per spec §5 "Work Coordinator: process-local; guarded by a mutex
// around the in-flight map".
type Coordinator struct {
	mu      sync.Mutex
	entries map[dag.NodeId]*entry
}

// New returns an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{entries: make(map[dag.NodeId]*entry)}
}

// Acquire implements the §4.4 contract: the first caller for a nodeID
// receives KindCompute and must eventually call Release(nodeID, outcome);
// subsequent callers receive KindWait and the same Future. A cancel func
// registered with SetLocalCancel is invoked by CancelWaiter when the last
// waiter leaves before the computation has been handed off.
func (c *Coordinator) Acquire(nodeID dag.NodeId) (Kind, *Future) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[nodeID]; ok {
		e.waiters++
		return KindWait, e.future
	}

	e := &entry{future: newFuture(), waiters: 1}
	c.entries[nodeID] = e
	return KindCompute, e.future
}

// SetLocalCancel registers the context.CancelFunc that aborts nodeID's
// in-flight computation. The computing goroutine calls this right after
// receiving KindCompute, passing the cancel half of the per-node context it
// derived for the call; CancelWaiter invokes it when eligible.
func (c *Coordinator) SetLocalCancel(nodeID dag.NodeId, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[nodeID]; ok {
		e.localCancel = cancel
	}
}

// MarkHandedOff records that nodeID's computation has been dispatched to a
// worker; after this point cancelling the last waiter no longer cancels
// the computation locally — it becomes cooperative via the job's
// cancellation token (spec §4.4 "Once handed off, cancellation is
// cooperative").
func (c *Coordinator) MarkHandedOff(nodeID dag.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[nodeID]; ok {
		e.handedOff = true
	}
}

// Release finalizes nodeID's entry: resolves the future with outcome and
// removes the in-flight record so a future Acquire for the same key (e.g.
// after a subsequent runtime_version change or test reset) starts fresh.
func (c *Coordinator) Release(nodeID dag.NodeId, outcome Outcome) {
	c.mu.Lock()
	e, ok := c.entries[nodeID]
	if ok {
		delete(c.entries, nodeID)
	}
	c.mu.Unlock()

	if ok {
		e.future.Resolve(outcome)
	}
}

// CancelWaiter decrements nodeID's waiter count. waiters counts the
// computer itself plus every caller that received KindWait, so a count of
// 1 means only the computer remains — no one else is still demanding the
// result. If this was the last non-computer waiter and the computation had
// not yet been handed off — the one case spec §4.4 allows a waiter's
// cancellation to also cancel the underlying computation — it reports true
// and, if a localCancel has been registered, invokes it. A waiter dropping
// out while others remain, or after hand-off, reports false and never
// touches the computation.
func (c *Coordinator) CancelWaiter(nodeID dag.NodeId) (cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[nodeID]
	if !ok {
		return false
	}
	e.waiters--
	isLastAndLocal := e.waiters <= 1 && !e.handedOff
	if isLastAndLocal && e.localCancel != nil {
		e.localCancel()
	}
	return isLastAndLocal
}

// InFlight reports whether nodeID currently has an in-flight entry; used by
// tests and diagnostics.
func (c *Coordinator) InFlight(nodeID dag.NodeId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[nodeID]
	return ok
}
