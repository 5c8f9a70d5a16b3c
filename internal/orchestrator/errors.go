package orchestrator

import "errors"

// State violations indicate a caller bug and fail fast rather than
// being absorbed into job state.
var (
	// ErrAlreadyRunning is returned when a discovery queue is enqueued
	// or resumed while one is still draining.
	ErrAlreadyRunning = errors.New("discovery queue already running")

	// ErrNoTargets is returned when an empty target list is enqueued.
	ErrNoTargets = errors.New("target list is empty")

	// ErrDuplicateActive is returned when a mapping start is requested
	// for a target that already has a non-terminal job.
	ErrDuplicateActive = errors.New("mapping already active for target")

	// ErrNotFound is returned when a cancel is requested for a target
	// without an active remote job.
	ErrNotFound = errors.New("no active job for target")
)
