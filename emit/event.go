package emit

import "time"

// Status is the per-node outcome an Event reports, per spec §4.5 "Events":
// `(node_id, operator, status, cache_source, duration, error?)`.
type Status string

const (
	StatusComputed     Status = "computed"
	StatusCachedStore  Status = "cached_store"
	StatusCachedLocal  Status = "cached_local"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped"
)

// Event is a single record in a job's event log (spec §4.5). Renamed from
// the teacher's (RunID, Step, NodeID, Msg, Meta) shape to the job-centric
// one the Job Manager and Execution Engine share: JobID identifies the
// submitting job, Operator names the dispatched callable.
type Event struct {
	// JobID identifies the job this event belongs to.
	JobID string

	// Step is the sequential step number within the job (1-indexed).
	Step int

	// NodeID identifies which node this event concerns; empty for
	// job-level events (start, complete, error).
	NodeID string

	// Operator is the operator name dispatched for NodeID; empty when
	// NodeID is empty or the node was never dispatched (e.g. skipped).
	Operator string

	// NodeStatus is the per-node outcome this event reports; empty for
	// job-level events.
	NodeStatus Status

	// CacheSource explains why a node didn't run its operator: "" when
	// computed, otherwise one of store.StatusMaterialized-style labels
	// ("store", "local") matching NodeStatus.
	CacheSource string

	// Duration is how long the dispatch took; zero for cache hits.
	Duration time.Duration

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data: "error", "dependency_chain"
	// for poisoned nodes, etc.
	Meta map[string]interface{}

	// Timestamp records when the event was appended.
	Timestamp time.Time
}
