// Package resolver implements the Value Resolver (C7): cached-lookup and
// enqueue-and-wait access to a single node's value, with path-rooted
// descriptor generation for inspection APIs (spec §4.6).
package resolver

import (
	"context"
	"errors"

	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/descriptor"
	"github.com/voxlogica-project/voxlogica2/store"
)

// Materialization is the Response's coarse-grained status. Cached-lookup
// requests (Enqueue=false) only ever report Cached, Missing or Failed;
// enqueue-and-wait requests (Enqueue=true) report Pending, Running,
// Computed or Failed (spec §4.6 "return the current state").
type Materialization string

const (
	MaterializationCached   Materialization = "cached"
	MaterializationMissing  Materialization = "missing"
	MaterializationFailed   Materialization = "failed"
	MaterializationPending  Materialization = "pending"
	MaterializationRunning  Materialization = "running"
	MaterializationComputed Materialization = "computed"
)

// JobStatus is the subset of a single-node job's lifecycle the resolver
// needs to report while a value is still being materialized.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
)

// JobSubmitter is the narrow Job Manager capability the enqueue-and-wait
// mode needs: synthesize a single-node job for a NodeId (reusing one
// already in flight rather than duplicating it) and report its status.
type JobSubmitter interface {
	// SubmitNode synthesizes a single-node job targeting nodeID within
	// workplan and returns its job id.
	SubmitNode(ctx context.Context, workplan *dag.Workplan, nodeID dag.NodeId) (jobID string, err error)
	// NodeJobStatus reports the in-flight job already tracking nodeID, if
	// any. ok is false once no such job is tracked — either none was ever
	// submitted, or it has already reached a terminal state and been
	// reaped (at which point the node's terminal state lives in the Store
	// instead).
	NodeJobStatus(nodeID dag.NodeId) (status JobStatus, jobID string, ok bool)
}

// Request is one resolve call's input (spec §4.6 Contract). Exactly one of
// NodeID or Variable should be set; if both are, NodeID wins.
type Request struct {
	Workplan *dag.Workplan
	NodeID   dag.NodeId
	Variable string
	Path     string
	Offset   int
	Size     int
	Enqueue  bool
	// NoCache forces a previously failed/killed terminal record to be
	// treated as absent rather than sticky (spec §9 open question,
	// resolved as an explicit per-request override). It has no effect on
	// a materialized record, and no effect unless Enqueue is also set —
	// a cached-lookup request has no job to recompute the value with.
	NoCache bool
}

// Response is a resolve call's output.
type Response struct {
	NodeID          dag.NodeId             `json:"node_id"`
	Materialization Materialization        `json:"materialization"`
	Descriptor      *descriptor.Descriptor `json:"descriptor,omitempty"`
	JobID           string                 `json:"job_id,omitempty"`
}

// Resolver answers resolve calls against a shared Content Store, optionally
// synthesizing single-node jobs through a Job Manager for values not yet
// materialized.
type Resolver struct {
	store          store.Store
	jobs           JobSubmitter
	runtimeVersion string
}

// New builds a Resolver. jobs may be nil if the caller never intends to
// issue Enqueue=true requests; doing so against a nil jobs returns a
// ResolveError rather than panicking.
func New(st store.Store, jobs JobSubmitter, runtimeVersion string) *Resolver {
	return &Resolver{store: st, jobs: jobs, runtimeVersion: runtimeVersion}
}

// Resolve answers req, per spec §4.6's two modes. It never returns an error
// for an ordinary missing/failed/pending value — those are Response
// outcomes; the error return is reserved for infrastructure failures (store
// I/O, an unresolvable target, job submission failure).
func (r *Resolver) Resolve(ctx context.Context, req Request) (Response, error) {
	nodeID, err := target(req)
	if err != nil {
		return Response{}, err
	}

	rec, err := r.store.Get(ctx, string(nodeID), r.runtimeVersion)
	switch {
	case err == nil && rec.Status == store.StatusMaterialized:
		m := MaterializationCached
		if req.Enqueue {
			m = MaterializationComputed
		}
		return Response{NodeID: nodeID, Materialization: m, Descriptor: descriptor.Build(rec, req.Path, req.Offset, req.Size)}, nil

	case err == nil: // terminal failed or killed
		if req.Enqueue && req.NoCache {
			if ierr := r.store.Invalidate(ctx, string(nodeID), r.runtimeVersion); ierr != nil {
				return Response{}, &ResolveError{Message: "failed to invalidate prior failure", Code: "RESOLVE_INVALIDATE_FAILED", Cause: ierr}
			}
			return r.resolveViaJob(ctx, req.Workplan, nodeID)
		}
		return Response{NodeID: nodeID, Materialization: MaterializationFailed, Descriptor: descriptor.Build(rec, req.Path, req.Offset, req.Size)}, nil

	case errors.Is(err, store.ErrNotFound):
		if !req.Enqueue {
			return Response{NodeID: nodeID, Materialization: MaterializationMissing}, nil
		}
		return r.resolveViaJob(ctx, req.Workplan, nodeID)

	default:
		return Response{}, &ResolveError{Message: "store Get failed", Code: "RESOLVE_STORE_ERROR", Cause: err}
	}
}

func (r *Resolver) resolveViaJob(ctx context.Context, workplan *dag.Workplan, nodeID dag.NodeId) (Response, error) {
	if r.jobs == nil {
		return Response{}, &ResolveError{Message: "enqueue requested but no job submitter configured", Code: "RESOLVE_NO_JOB_SUBMITTER"}
	}
	if status, jobID, ok := r.jobs.NodeJobStatus(nodeID); ok {
		return Response{NodeID: nodeID, Materialization: Materialization(status), JobID: jobID}, nil
	}
	jobID, err := r.jobs.SubmitNode(ctx, workplan, nodeID)
	if err != nil {
		return Response{}, &ResolveError{Message: "failed to submit single-node job", Code: "RESOLVE_SUBMIT_FAILED", Cause: err}
	}
	return Response{NodeID: nodeID, Materialization: MaterializationPending, JobID: jobID}, nil
}

// target resolves req down to a single NodeId: an explicit NodeID wins,
// otherwise Variable is looked up against the Workplan's goal labels (spec
// §4.6 Contract "program_or_node").
func target(req Request) (dag.NodeId, error) {
	if req.NodeID != "" {
		return req.NodeID, nil
	}
	if req.Variable == "" {
		return "", ErrNoTarget
	}
	if req.Workplan == nil {
		return "", ErrNoTarget
	}
	for _, g := range req.Workplan.Goals() {
		if g.Label == req.Variable {
			return g.Target, nil
		}
	}
	return "", ErrUnknownVariable
}
