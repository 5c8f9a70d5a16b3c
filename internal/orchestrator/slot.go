package orchestrator

import (
	"sync"
	"time"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/models"
)

// jobSlot owns one TrackedJob attempt. All mutation goes through
// update() so the poll loop, the cancel confirm loop and queue stop
// never interleave partial writes. A retry creates a new slot; a
// terminal slot is never reused.
type jobSlot struct {
	mu  sync.Mutex
	job models.TrackedJob
}

func newSlot(project string, target models.Target, kind models.JobKind) *jobSlot {
	return &jobSlot{
		job: models.TrackedJob{
			ID:         common.NewJobID(),
			Project:    project,
			TargetID:   target.ID,
			TargetName: target.Name,
			Kind:       kind,
			State:      models.JobStatePending,
			CreatedAt:  time.Now(),
		},
	}
}

// restoredSlot rebuilds a slot from the agent's active-jobs listing.
func restoredSlot(project string, active models.ActiveJob, state models.JobState, orphaned bool) *jobSlot {
	now := time.Now()
	job := models.TrackedJob{
		ID:          common.NewJobID(),
		Project:     project,
		TargetID:    active.TargetID,
		TargetName:  active.TargetName,
		Kind:        active.Kind,
		RemoteJobID: active.RemoteJobID,
		State:       state,
		Progress:    active.Progress,
		Orphaned:    orphaned,
		CreatedAt:   now,
	}
	if state == models.JobStateRunning {
		job.StartedAt = now
	}
	return &jobSlot{job: job}
}

// Snapshot returns a copy of the tracked job.
func (s *jobSlot) Snapshot() models.TrackedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// update applies fn to the tracked job under the slot lock.
func (s *jobSlot) update(fn func(*models.TrackedJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.job)
}
