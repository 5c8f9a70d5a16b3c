package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// Coordinator runs discovery jobs for an ordered target list strictly
// one at a time. Every slot is attempted exactly once: a start failure
// or a failed remote job marks that slot and the queue advances. Stop
// marks the pending tail cancelled and cancels the active job; the
// queue stays "running" until the active job's cancellation resolves.
type Coordinator struct {
	agent    interfaces.AgentService
	events   interfaces.EventService
	poller   *Poller
	jobStore interfaces.JobStorage
	logger   arbor.ILogger

	// options applied to every discovery start in a queue
	options models.DiscoveryOptions

	mu            sync.Mutex
	project       string
	slots         []*jobSlot
	active        *jobSlot
	running       bool
	stopRequested bool
}

// NewCoordinator creates a queue coordinator sharing the given poller.
func NewCoordinator(
	agent interfaces.AgentService,
	events interfaces.EventService,
	poller *Poller,
	jobStore interfaces.JobStorage,
	project string,
	options models.DiscoveryOptions,
	logger arbor.ILogger,
) *Coordinator {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Coordinator{
		agent:    agent,
		events:   events,
		poller:   poller,
		jobStore: jobStore,
		project:  project,
		options:  options,
		logger:   logger,
	}
}

// Enqueue builds a queue from targets and starts draining it in the
// background. Returns ErrAlreadyRunning while a previous queue is still
// draining and ErrNoTargets for an empty list.
func (c *Coordinator) Enqueue(ctx context.Context, targets []models.Target) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}

	slots := make([]*jobSlot, len(targets))
	for i, target := range targets {
		slots[i] = newSlot(c.project, target, models.JobKindDiscovery)
	}
	c.slots = slots
	c.active = nil
	c.running = true
	c.stopRequested = false
	project := c.project
	c.mu.Unlock()

	for _, slot := range slots {
		c.persistJob(slot.Snapshot())
	}

	c.logger.Info().
		Str("project", project).
		Int("targets", len(targets)).
		Msg("Discovery queue enqueued")

	common.SafeGo(c.logger, "discovery-queue", func() {
		c.run(slots)
	})
	return nil
}

// Stop halts the queue: pending slots are marked cancelled immediately
// and the active job goes through the cancellation protocol. Idempotent;
// a no-op when no queue is running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.stopRequested = true
	slots := c.slots
	active := c.active
	c.mu.Unlock()

	c.logger.Info().Msg("Discovery queue stop requested")

	for _, slot := range slots {
		if slot == active {
			continue
		}
		c.cancelPending(slot)
	}

	if active != nil {
		c.poller.Cancel(context.Background(), active)
	}
}

// ResumeFromServer rebuilds the queue from the agent's active-jobs
// listing after a restart: the single running job gets a poll loop
// re-attached and any other reported discovery jobs queue behind it.
// Jobs whose target is absent from known are restored flagged orphaned.
func (c *Coordinator) ResumeFromServer(ctx context.Context, known []models.Target) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	project := c.project
	c.mu.Unlock()

	activeJobs, err := c.agent.ActiveJobs(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	knownIDs := targetIDSet(known)
	var slots []*jobSlot
	seenRunning := false
	for _, aj := range activeJobs {
		if aj.Kind != models.JobKindDiscovery {
			continue
		}

		state := models.JobStatePending
		if aj.State == models.JobStateRunning && !seenRunning {
			state = models.JobStateRunning
			seenRunning = true
		}

		orphaned := known != nil && !knownIDs[aj.TargetID]
		slot := restoredSlot(project, aj, state, orphaned)
		slots = append(slots, slot)

		if orphaned {
			c.logger.Warn().
				Int("target_id", aj.TargetID).
				Str("remote_job_id", aj.RemoteJobID).
				Msg("Restored discovery job references an unknown target")
		}
	}

	if len(slots) == 0 {
		return nil
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.slots = slots
	c.active = nil
	c.running = true
	c.stopRequested = false
	c.mu.Unlock()

	for _, slot := range slots {
		c.persistJob(slot.Snapshot())
	}

	c.logger.Info().
		Str("project", project).
		Int("jobs", len(slots)).
		Msg("Discovery queue resumed from agent state")

	common.SafeGo(c.logger, "discovery-queue-resume", func() {
		c.run(slots)
	})
	return nil
}

// Reset stops any running queue and rescopes the coordinator to a new
// project. The next Enqueue is rejected until the old queue finishes
// draining.
func (c *Coordinator) Reset(ctx context.Context, project string) {
	c.Stop()

	c.mu.Lock()
	c.project = project
	if !c.running {
		c.slots = nil
	}
	c.mu.Unlock()
}

// Snapshot returns the current queue in order.
func (c *Coordinator) Snapshot() []models.TrackedJob {
	c.mu.Lock()
	slots := c.slots
	c.mu.Unlock()

	jobs := make([]models.TrackedJob, 0, len(slots))
	for _, slot := range slots {
		jobs = append(jobs, slot.Snapshot())
	}
	return jobs
}

// Running reports whether a queue is still draining.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// run drains the queue sequentially. Runs on its own goroutine; slots
// is a private copy so a concurrent Reset cannot pull it out from under
// the loop.
func (c *Coordinator) run(slots []*jobSlot) {
	for _, slot := range slots {
		c.mu.Lock()
		stopped := c.stopRequested
		c.active = slot
		c.mu.Unlock()

		if stopped {
			c.cancelPending(slot)
			continue
		}
		c.runSlot(slot)
	}

	summary := summarize(slots)

	c.mu.Lock()
	c.running = false
	c.active = nil
	c.mu.Unlock()

	c.logger.Info().
		Str("project", summary.Project).
		Int("total", summary.Total).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("cancelled", summary.Cancelled).
		Int("items_found", summary.ItemsFound).
		Msg("Discovery queue completed")

	c.publish(interfaces.EventQueueCompleted, summary)
}

// runSlot starts (or re-attaches to) one discovery job and blocks until
// it reaches a terminal state.
func (c *Coordinator) runSlot(slot *jobSlot) {
	snap := slot.Snapshot()
	if snap.State.Terminal() {
		return
	}

	// Restored slots already carry a remote job; everything else needs
	// a start call.
	if snap.RemoteJobID == "" {
		remoteID, err := c.agent.StartDiscovery(context.Background(), snap.TargetID, c.options)
		if err != nil {
			c.failStart(slot, err)
			return
		}

		started := false
		slot.update(func(j *models.TrackedJob) {
			if j.State.Terminal() {
				return
			}
			j.RemoteJobID = remoteID
			j.State = models.JobStateRunning
			j.StartedAt = time.Now()
			started = true
		})
		if !started {
			// Stop cancelled this slot while the start call was in
			// flight; the remote job is an orphan now, kill it.
			if err := c.agent.CancelJob(context.Background(), remoteID); err != nil {
				c.logger.Warn().
					Err(err).
					Str("remote_job_id", remoteID).
					Msg("Failed to cancel orphaned remote job")
			}
			return
		}
	} else if !slot.Snapshot().State.Terminal() {
		slot.update(func(j *models.TrackedJob) {
			if j.State == models.JobStatePending {
				j.State = models.JobStateRunning
				j.StartedAt = time.Now()
			}
		})
	}

	running := slot.Snapshot()
	c.persistJob(running)
	c.publish(interfaces.EventJobProgress, running)

	// Stop may have landed between the start call and here.
	c.mu.Lock()
	stopped := c.stopRequested
	c.mu.Unlock()
	if stopped {
		c.poller.Cancel(context.Background(), slot)
	}

	c.poller.Run(context.Background(), slot)
}

// failStart marks a slot failed without blocking the queue.
func (c *Coordinator) failStart(slot *jobSlot, startErr error) {
	var snap models.TrackedJob
	slot.update(func(j *models.TrackedJob) {
		if j.State.Terminal() {
			snap = *j
			return
		}
		j.State = models.JobStateFailed
		j.Error = &models.JobError{
			Kind:    models.ErrorKindStartFailure,
			Message: startErr.Error(),
		}
		j.EndedAt = time.Now()
		snap = *j
	})

	c.logger.Warn().
		Err(startErr).
		Int("target_id", snap.TargetID).
		Str("target_name", snap.TargetName).
		Msg("Discovery start rejected, advancing queue")

	c.persistJob(snap)
	c.publish(interfaces.EventJobFailed, snap)
}

// cancelPending marks a not-yet-started slot cancelled.
func (c *Coordinator) cancelPending(slot *jobSlot) {
	var snap models.TrackedJob
	changed := false
	slot.update(func(j *models.TrackedJob) {
		if j.State != models.JobStatePending {
			return
		}
		j.State = models.JobStateCancelled
		j.EndedAt = time.Now()
		snap = *j
		changed = true
	})
	if !changed {
		return
	}

	c.persistJob(snap)
	c.publish(interfaces.EventJobCancelled, snap)
}

func (c *Coordinator) persistJob(job models.TrackedJob) {
	if c.jobStore == nil {
		return
	}
	if err := c.jobStore.SaveJob(context.Background(), &job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
}

func (c *Coordinator) publish(eventType interfaces.EventType, payload interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		c.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}

// summarize tallies the drained queue.
func summarize(slots []*jobSlot) models.QueueSummary {
	var summary models.QueueSummary
	summary.Total = len(slots)
	for _, slot := range slots {
		job := slot.Snapshot()
		summary.Project = job.Project
		summary.ItemsFound += job.Progress.Found
		switch job.State {
		case models.JobStateCompleted:
			summary.Completed++
		case models.JobStateFailed:
			summary.Failed++
		case models.JobStateCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

func targetIDSet(targets []models.Target) map[int]bool {
	ids := make(map[int]bool, len(targets))
	for _, t := range targets {
		ids[t.ID] = true
	}
	return ids
}
