package models

import (
	"fmt"
	"time"
)

// JobState represents the state of a tracked remote job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// JobKind is the type of remote job being tracked
type JobKind string

const (
	JobKindDiscovery JobKind = "discovery" // environment crawl
	JobKindMapping   JobKind = "mapping"   // per-form path mapping
)

// ErrorKind classifies tracked job failures
type ErrorKind string

const (
	ErrorKindStartFailure  ErrorKind = "start_failure"  // the remote start call rejected the job
	ErrorKindRemoteFailure ErrorKind = "remote_failure" // the agent reported the job itself failed
	ErrorKindCancelTimeout ErrorKind = "cancel_timeout" // cancel never acknowledged within the window
)

// JobError is a classified failure attached to a terminal TrackedJob.
// Transport-level poll errors are retried and never recorded here.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"` // agent error code, when reported
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// JobProgress tracks remote job progress counters. Counters are
// monotonically non-decreasing for the lifetime of a job; regressions
// in poll responses are discarded.
type JobProgress struct {
	Scanned int `json:"scanned"` // pages scanned (discovery) or fields examined (mapping)
	Found   int `json:"found"`   // forms found (discovery) or paths mapped (mapping)
}

// Behind reports whether p is a regression relative to current
func (p JobProgress) Behind(current JobProgress) bool {
	return p.Scanned < current.Scanned || p.Found < current.Found
}

// TrackedJob is the orchestrator's view of one remote job attempt.
// One TrackedJob exists per target per attempt; a retry creates a new
// TrackedJob rather than mutating a terminal one. Once polling has
// begun, only the poll loop for this job mutates State/Progress/Error.
type TrackedJob struct {
	ID          string      `json:"id"` // local tracking id, badgerhold key
	Project     string      `json:"project"`
	TargetID    int         `json:"target_id"`
	TargetName  string      `json:"target_name"`
	Kind        JobKind     `json:"kind"`
	RemoteJobID string      `json:"remote_job_id,omitempty"` // assigned when the start call succeeds
	State       JobState    `json:"state"`
	Stopping    bool        `json:"stopping,omitempty"` // transient cancel-in-flight marker, never persisted as a state
	Progress    JobProgress `json:"progress"`
	Error       *JobError   `json:"error,omitempty"`
	// Orphaned marks a job restored from the agent whose target is no
	// longer in the caller's current target list. Surfaced to the UI
	// rather than silently dropped.
	Orphaned  bool      `json:"orphaned,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// JobStatusSnapshot is one poll response from the agent for a running job
type JobStatusSnapshot struct {
	State        JobState     `json:"state"`
	Progress     JobProgress  `json:"progress"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Items        []ResultItem `json:"items,omitempty"`
}

// ActiveJob is one entry from the agent's active-jobs listing, used to
// rebuild orchestration state after a restart.
type ActiveJob struct {
	TargetID    int         `json:"target_id"`
	TargetName  string      `json:"target_name,omitempty"`
	RemoteJobID string      `json:"job_id"`
	Kind        JobKind     `json:"kind"`
	State       JobState    `json:"state"`
	Progress    JobProgress `json:"progress"`
}

// QueueSummary is the Coordinator's final report after a discovery
// queue drains: every slot was attempted exactly once.
type QueueSummary struct {
	Project    string `json:"project"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Cancelled  int    `json:"cancelled"`
	ItemsFound int    `json:"items_found"`
}
