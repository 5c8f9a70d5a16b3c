package orchestrator

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// Intervals holds the polling cadence for remote jobs.
type Intervals struct {
	// Poll is the regular status poll interval for running jobs.
	Poll time.Duration

	// CancelPoll is the faster confirm-poll interval after a cancel
	// has been requested.
	CancelPoll time.Duration

	// CancelTimeout bounds how long a cancel may stay unconfirmed
	// before the job is force-finalized as cancelled.
	CancelTimeout time.Duration
}

// DefaultIntervals returns the production polling cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		Poll:          3 * time.Second,
		CancelPoll:    time.Second,
		CancelTimeout: 30 * time.Second,
	}
}

// Poller drives the status poll loop and the cancellation protocol for
// remote jobs. One Poller is shared by the queue coordinator and the
// session tracker; leases keep at most one live loop per remote job ID.
type Poller struct {
	agent       interfaces.AgentService
	events      interfaces.EventService
	results     *ResultSet
	jobStore    interfaces.JobStorage
	resultStore interfaces.ResultStorage
	leases      *LeaseArena
	intervals   Intervals
	logger      arbor.ILogger
}

// NewPoller creates a poller. jobStore and resultStore may be nil when
// persistence is not wanted (tests).
func NewPoller(
	agent interfaces.AgentService,
	events interfaces.EventService,
	results *ResultSet,
	jobStore interfaces.JobStorage,
	resultStore interfaces.ResultStorage,
	intervals Intervals,
	logger arbor.ILogger,
) *Poller {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Poller{
		agent:       agent,
		events:      events,
		results:     results,
		jobStore:    jobStore,
		resultStore: resultStore,
		leases:      NewLeaseArena(),
		intervals:   intervals,
		logger:      logger,
	}
}

// Leases exposes the lease arena for scope resets.
func (p *Poller) Leases() *LeaseArena {
	return p.leases
}

// Results exposes the shared result set.
func (p *Poller) Results() *ResultSet {
	return p.results
}

// Run polls the remote job bound to slot until it reaches a terminal
// state or the lease is invalidated. Blocks; returns the final observed
// state. Transport errors are logged and retried on the next tick and
// never surface into job state.
func (p *Poller) Run(ctx context.Context, slot *jobSlot) models.JobState {
	snap := slot.Snapshot()
	remoteID := snap.RemoteJobID
	if remoteID == "" || snap.State.Terminal() {
		return snap.State
	}

	lease := p.leases.Acquire(ctx, remoteID)
	defer p.leases.Release(lease)

	p.logger.Debug().
		Str("job_id", snap.ID).
		Str("remote_job_id", remoteID).
		Str("kind", string(snap.Kind)).
		Msg("Poll loop started")

	ticker := time.NewTicker(p.intervals.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-lease.Done():
			return slot.Snapshot().State

		case <-ticker.C:
			// A cancel confirm loop may have finalized the slot
			// between ticks.
			if slot.Snapshot().State.Terminal() {
				return slot.Snapshot().State
			}

			status, err := p.agent.JobStatus(lease.Context(), remoteID)
			if err != nil {
				if lease.Context().Err() != nil {
					return slot.Snapshot().State
				}
				p.logger.Debug().
					Err(err).
					Str("remote_job_id", remoteID).
					Msg("Status poll failed, retrying next tick")
				continue
			}

			p.apply(slot, remoteID, status)

			if status.State.Terminal() {
				p.finalize(slot, remoteID, status.State, remoteError(status))
				return slot.Snapshot().State
			}
		}
	}
}

// Cancel runs the cancellation protocol for the slot's current remote
// job: mark the job stopping, request the remote cancel, then confirm
// in the background at the faster cadence until a terminal state is
// observed or the timeout forces a cancelled finalization. Returns
// without blocking on confirmation. A second Cancel while one is in
// flight is a no-op.
func (p *Poller) Cancel(ctx context.Context, slot *jobSlot) {
	snap := slot.Snapshot()
	remoteID := snap.RemoteJobID
	if remoteID == "" || snap.State.Terminal() {
		return
	}

	already := false
	slot.update(func(j *models.TrackedJob) {
		if j.Stopping || j.State.Terminal() || j.RemoteJobID != remoteID {
			already = true
			return
		}
		j.Stopping = true
	})
	if already {
		return
	}

	stopping := slot.Snapshot()
	p.persistJob(stopping)
	p.publish(interfaces.EventJobStopping, stopping)

	p.logger.Info().
		Str("job_id", stopping.ID).
		Str("remote_job_id", remoteID).
		Int("target_id", stopping.TargetID).
		Msg("Cancelling remote job")

	if err := p.agent.CancelJob(ctx, remoteID); err != nil {
		// The confirm loop still runs: the job may finish on its own,
		// and the timeout fallback bounds the wait either way.
		p.logger.Warn().
			Err(err).
			Str("remote_job_id", remoteID).
			Msg("Remote cancel request failed, relying on confirm poll")
	}

	common.SafeGo(p.logger, "cancel-confirm-"+remoteID, func() {
		p.confirm(slot, remoteID)
	})
}

// Detach invalidates the poll lease for the slot's remote job without
// cancelling it remotely, used when the local scope changes.
func (p *Poller) Detach(slot *jobSlot) {
	snap := slot.Snapshot()
	if snap.RemoteJobID != "" {
		p.leases.Invalidate(snap.RemoteJobID)
	}
}

// confirm polls at the cancel cadence until the agent reports any
// terminal state, finalizing with whatever the agent said. A job racing
// to natural completion counts as confirmation. Past the timeout the
// job is force-finalized as cancelled so the UI never wedges on an
// unresponsive agent; the divergence is logged, not surfaced as a job
// error.
func (p *Poller) confirm(slot *jobSlot, remoteID string) {
	ticker := time.NewTicker(p.intervals.CancelPoll)
	defer ticker.Stop()

	deadline := time.NewTimer(p.intervals.CancelTimeout)
	defer deadline.Stop()

	ctx := context.Background()

	for {
		select {
		case <-deadline.C:
			if p.finalize(slot, remoteID, models.JobStateCancelled, nil) {
				p.logger.Warn().
					Str("remote_job_id", remoteID).
					Str("timeout", p.intervals.CancelTimeout.String()).
					Msg("Cancel never confirmed by agent, forcing cancelled state")
			}
			p.leases.Invalidate(remoteID)
			return

		case <-ticker.C:
			if slot.Snapshot().State.Terminal() {
				p.leases.Invalidate(remoteID)
				return
			}

			status, err := p.agent.JobStatus(ctx, remoteID)
			if err != nil {
				continue
			}
			if !status.State.Terminal() {
				continue
			}

			p.finalize(slot, remoteID, status.State, remoteError(status))
			p.leases.Invalidate(remoteID)
			return
		}
	}
}

// apply folds one status snapshot into the slot: monotonic progress
// counters and result merge. Responses carrying a counter regression
// are treated as stale and discarded whole.
func (p *Poller) apply(slot *jobSlot, remoteID string, status *models.JobStatusSnapshot) {
	var snap models.TrackedJob
	bound := false
	changed := false
	slot.update(func(j *models.TrackedJob) {
		if j.RemoteJobID != remoteID || j.State.Terminal() {
			return
		}
		bound = true
		if status.Progress != j.Progress && !status.Progress.Behind(j.Progress) {
			j.Progress = status.Progress
			changed = true
		}
		snap = *j
	})
	if !bound {
		return
	}

	if len(status.Items) > 0 {
		fresh := p.results.Apply(status.Items)
		if len(fresh) > 0 {
			p.persistResults(fresh)
			p.publish(interfaces.EventResultsMerged, models.ResultsMergedEvent{
				TargetID: snap.TargetID,
				Count:    len(fresh),
			})
		}
	}

	if changed {
		p.persistJob(snap)
		p.publish(interfaces.EventJobProgress, snap)
	}
}

// finalize transitions the slot to a terminal state exactly once.
// Returns false when the slot already reached a terminal state or has
// since been bound to a different remote job, so a stale confirmation
// can never overwrite a newer attempt.
func (p *Poller) finalize(slot *jobSlot, remoteID string, state models.JobState, jobErr *models.JobError) bool {
	var snap models.TrackedJob
	done := false
	slot.update(func(j *models.TrackedJob) {
		if j.RemoteJobID != remoteID || j.State.Terminal() {
			return
		}
		j.State = state
		j.Stopping = false
		j.Error = jobErr
		j.EndedAt = time.Now()
		snap = *j
		done = true
	})
	if !done {
		return false
	}

	p.persistJob(snap)

	switch state {
	case models.JobStateCompleted:
		p.publish(interfaces.EventJobCompleted, snap)
	case models.JobStateFailed:
		p.publish(interfaces.EventJobFailed, snap)
	case models.JobStateCancelled:
		p.publish(interfaces.EventJobCancelled, snap)
	}

	event := p.logger.Info()
	if state == models.JobStateFailed {
		event = p.logger.Warn()
	}
	event.
		Str("job_id", snap.ID).
		Str("remote_job_id", remoteID).
		Str("state", string(state)).
		Int("scanned", snap.Progress.Scanned).
		Int("found", snap.Progress.Found).
		Msg("Job finalized")

	return true
}

func (p *Poller) persistJob(job models.TrackedJob) {
	if p.jobStore == nil {
		return
	}
	if err := p.jobStore.SaveJob(context.Background(), &job); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
}

func (p *Poller) persistResults(items []models.ResultItem) {
	if p.resultStore == nil {
		return
	}
	if err := p.resultStore.SaveResults(context.Background(), items); err != nil {
		p.logger.Warn().Err(err).Int("count", len(items)).Msg("Failed to persist results")
	}
}

func (p *Poller) publish(eventType interfaces.EventType, payload interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		p.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}

// remoteError builds the job error for an agent-reported failure.
func remoteError(status *models.JobStatusSnapshot) *models.JobError {
	if status.State != models.JobStateFailed {
		return nil
	}
	msg := status.ErrorMessage
	if msg == "" {
		msg = "remote job failed"
	}
	return &models.JobError{
		Kind:    models.ErrorKindRemoteFailure,
		Code:    status.ErrorCode,
		Message: msg,
	}
}
