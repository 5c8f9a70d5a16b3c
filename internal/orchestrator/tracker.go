package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// Tracker manages mapping jobs, any number of which run concurrently,
// keyed by target ID. Each active job has its own poll loop; at most
// one non-terminal job exists per target at a time.
type Tracker struct {
	agent    interfaces.AgentService
	events   interfaces.EventService
	poller   *Poller
	jobStore interfaces.JobStorage
	logger   arbor.ILogger

	mu       sync.Mutex
	project  string
	sessions map[int]*jobSlot
}

// NewTracker creates a session tracker sharing the given poller.
func NewTracker(
	agent interfaces.AgentService,
	events interfaces.EventService,
	poller *Poller,
	jobStore interfaces.JobStorage,
	project string,
	logger arbor.ILogger,
) *Tracker {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Tracker{
		agent:    agent,
		events:   events,
		poller:   poller,
		jobStore: jobStore,
		project:  project,
		logger:   logger,
		sessions: make(map[int]*jobSlot),
	}
}

// Start begins a mapping job for target. Returns ErrDuplicateActive
// when a non-terminal job already exists for the target. When the
// remote start call is rejected the failed TrackedJob is recorded and
// returned alongside the error; the tracker itself stays consistent
// and the target can be retried immediately.
func (t *Tracker) Start(ctx context.Context, target models.Target) (models.TrackedJob, error) {
	t.mu.Lock()
	if existing, ok := t.sessions[target.ID]; ok {
		if snap := existing.Snapshot(); !snap.State.Terminal() {
			t.mu.Unlock()
			return snap, ErrDuplicateActive
		}
	}
	slot := newSlot(t.project, target, models.JobKindMapping)
	t.sessions[target.ID] = slot
	t.mu.Unlock()

	t.persistJob(slot.Snapshot())

	remoteID, err := t.agent.StartMapping(ctx, target.ID)
	if err != nil {
		var snap models.TrackedJob
		slot.update(func(j *models.TrackedJob) {
			j.State = models.JobStateFailed
			j.Error = &models.JobError{
				Kind:    models.ErrorKindStartFailure,
				Message: err.Error(),
			}
			j.EndedAt = time.Now()
			snap = *j
		})

		t.logger.Warn().
			Err(err).
			Int("target_id", target.ID).
			Str("target_name", target.Name).
			Msg("Mapping start rejected")

		t.persistJob(snap)
		t.publish(interfaces.EventJobFailed, snap)
		return snap, fmt.Errorf("failed to start mapping for target %d: %w", target.ID, err)
	}

	var started models.TrackedJob
	slot.update(func(j *models.TrackedJob) {
		j.RemoteJobID = remoteID
		j.State = models.JobStateRunning
		j.StartedAt = time.Now()
		started = *j
	})

	t.logger.Info().
		Str("job_id", started.ID).
		Str("remote_job_id", remoteID).
		Int("target_id", target.ID).
		Str("target_name", target.Name).
		Msg("Mapping job started")

	t.persistJob(started)
	t.publish(interfaces.EventJobProgress, started)

	common.SafeGo(t.logger, fmt.Sprintf("mapping-poll-%d", target.ID), func() {
		t.poller.Run(context.Background(), slot)
	})

	return started, nil
}

// Cancel runs the cancellation protocol for the target's active job.
// Returns ErrNotFound when the target has no job with a live remote
// side. A repeated cancel while the first is still confirming returns
// the current snapshot without error.
func (t *Tracker) Cancel(ctx context.Context, targetID int) (models.TrackedJob, error) {
	t.mu.Lock()
	slot, ok := t.sessions[targetID]
	t.mu.Unlock()
	if !ok {
		return models.TrackedJob{}, ErrNotFound
	}

	snap := slot.Snapshot()
	if snap.RemoteJobID == "" || snap.State.Terminal() {
		return snap, ErrNotFound
	}
	if snap.Stopping {
		return snap, nil
	}

	t.poller.Cancel(ctx, slot)
	return slot.Snapshot(), nil
}

// RestoreActive reconstructs tracked sessions from the agent's
// active-jobs listing: exactly the mapping jobs the agent reports get
// poll loops, no more and no fewer. Jobs for targets absent from known
// are restored flagged orphaned. Targets that already have a live
// session locally are left untouched.
func (t *Tracker) RestoreActive(ctx context.Context, known []models.Target) error {
	t.mu.Lock()
	project := t.project
	t.mu.Unlock()

	activeJobs, err := t.agent.ActiveJobs(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	knownIDs := targetIDSet(known)
	restored := 0
	for _, aj := range activeJobs {
		if aj.Kind != models.JobKindMapping {
			continue
		}

		t.mu.Lock()
		if existing, ok := t.sessions[aj.TargetID]; ok && !existing.Snapshot().State.Terminal() {
			t.mu.Unlock()
			continue
		}

		orphaned := known != nil && !knownIDs[aj.TargetID]
		slot := restoredSlot(project, aj, models.JobStateRunning, orphaned)
		t.sessions[aj.TargetID] = slot
		t.mu.Unlock()

		if orphaned {
			t.logger.Warn().
				Int("target_id", aj.TargetID).
				Str("remote_job_id", aj.RemoteJobID).
				Msg("Restored mapping job references an unknown target")
		}

		t.persistJob(slot.Snapshot())

		restoredTarget := aj.TargetID
		common.SafeGo(t.logger, fmt.Sprintf("mapping-poll-%d", restoredTarget), func() {
			t.poller.Run(context.Background(), slot)
		})
		restored++
	}

	if restored > 0 {
		t.logger.Info().
			Str("project", project).
			Int("jobs", restored).
			Msg("Mapping sessions restored from agent state")
	}
	return nil
}

// Reset rescopes the tracker to a new project: every local poll loop
// is detached (without cancelling the remote jobs, which belong to the
// old scope), the session map is cleared and the new project's active
// jobs are restored.
func (t *Tracker) Reset(ctx context.Context, project string, known []models.Target) error {
	t.mu.Lock()
	old := t.sessions
	t.sessions = make(map[int]*jobSlot)
	t.project = project
	t.mu.Unlock()

	for _, slot := range old {
		t.poller.Detach(slot)
	}

	return t.RestoreActive(ctx, known)
}

// Snapshot returns every tracked session ordered by target ID.
func (t *Tracker) Snapshot() []models.TrackedJob {
	t.mu.Lock()
	jobs := make([]models.TrackedJob, 0, len(t.sessions))
	for _, slot := range t.sessions {
		jobs = append(jobs, slot.Snapshot())
	}
	t.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].TargetID < jobs[j].TargetID
	})
	return jobs
}

func (t *Tracker) persistJob(job models.TrackedJob) {
	if t.jobStore == nil {
		return
	}
	if err := t.jobStore.SaveJob(context.Background(), &job); err != nil {
		t.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
}

func (t *Tracker) publish(eventType interfaces.EventType, payload interface{}) {
	if t.events == nil {
		return
	}
	if err := t.events.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		t.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
