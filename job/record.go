package job

import (
	"time"

	"github.com/voxlogica-project/voxlogica2/emit"
	"github.com/voxlogica-project/voxlogica2/engine"
)

// Status is a job's coarse lifecycle state (spec §4.8).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Record is the snapshot Get/Kill/List return: everything about a job
// except its full event log, which is bounded to a tail (spec §4.8 "a
// bounded log_tail").
type Record struct {
	ID        string                  `json:"id"`
	Kind      string                  `json:"kind"`
	Status    Status                  `json:"status"`
	Result    *engine.ExecutionResult `json:"result,omitempty"` // set once Status is terminal and Kind is an execute-style job
	Error     string                  `json:"error,omitempty"`  // job-level infrastructure error, set when Status == failed
	LogTail   []emit.Event            `json:"log_tail,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func (r Record) terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}
