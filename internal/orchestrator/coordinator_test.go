package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

func envTargets(ids ...int) []models.Target {
	targets := make([]models.Target, len(ids))
	for i, id := range ids {
		targets[i] = models.Target{ID: id, Name: "env", Kind: models.TargetKindEnvironment}
	}
	return targets
}

func newTestCoordinator(agent *fakeAgent, events interfaces.EventService) *Coordinator {
	poller := newTestPoller(agent, events)
	return NewCoordinator(agent, events, poller, nil, "proj-1", models.DiscoveryOptions{}, nil)
}

func waitDrained(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !c.Running()
	}, 2*time.Second, time.Millisecond, "queue never drained")
}

func TestCoordinatorRejectsEmptyQueue(t *testing.T) {
	c := newTestCoordinator(newFakeAgent(), nil)

	err := c.Enqueue(context.Background(), nil)

	assert.ErrorIs(t, err, ErrNoTargets)
	assert.False(t, c.Running())
}

func TestCoordinatorDrainsSequentially(t *testing.T) {
	agent := newFakeAgent()
	agent.script("remote-1", completedStep(4, 1))
	agent.script("remote-2", completedStep(2, 0))
	agent.script("remote-3", completedStep(9, 3))

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.Enqueue(context.Background(), envTargets(10, 20, 30)))

	waitDrained(t, c)

	// order preserved, one start per slot
	assert.Equal(t, []int{10, 20, 30}, agent.startCalls())

	jobs := c.Snapshot()
	require.Len(t, jobs, 3)
	for i, id := range []int{10, 20, 30} {
		assert.Equal(t, id, jobs[i].TargetID)
		assert.Equal(t, models.JobStateCompleted, jobs[i].State)
	}
}

func TestCoordinatorStartFailureNeverBlocksQueue(t *testing.T) {
	agent := newFakeAgent()
	agent.failNextStarts(errors.New("environment unreachable"), nil)
	agent.script("remote-1", completedStep(3, 1))

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.Enqueue(context.Background(), envTargets(10, 20)))

	waitDrained(t, c)

	jobs := c.Snapshot()
	require.Len(t, jobs, 2)

	assert.Equal(t, models.JobStateFailed, jobs[0].State)
	require.NotNil(t, jobs[0].Error)
	assert.Equal(t, models.ErrorKindStartFailure, jobs[0].Error.Kind)
	assert.Empty(t, jobs[0].RemoteJobID)

	assert.Equal(t, models.JobStateCompleted, jobs[1].State)
}

func TestCoordinatorRemoteFailureAdvancesQueue(t *testing.T) {
	agent := newFakeAgent()
	agent.script("remote-1", failedStep("TIMEOUT", "crawl timed out"))
	agent.script("remote-2", completedStep(1, 1))

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.Enqueue(context.Background(), envTargets(10, 20)))

	waitDrained(t, c)

	jobs := c.Snapshot()
	assert.Equal(t, models.JobStateFailed, jobs[0].State)
	assert.Equal(t, models.JobStateCompleted, jobs[1].State)
}

func TestCoordinatorRejectsEnqueueWhileRunning(t *testing.T) {
	agent := newFakeAgent()
	agent.cancelFinalizes = true

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.Enqueue(context.Background(), envTargets(10)))

	err := c.Enqueue(context.Background(), envTargets(20))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	c.Stop()
	waitDrained(t, c)

	// a drained queue accepts new work
	agent.script("remote-2", completedStep(1, 0))
	assert.NoError(t, c.Enqueue(context.Background(), envTargets(20)))
	waitDrained(t, c)
}

func TestCoordinatorStopCancelsActiveAndPending(t *testing.T) {
	agent := newFakeAgent()
	agent.cancelFinalizes = true
	// remote-1 keeps running until cancelled

	events := newEventRecorder()
	c := newTestCoordinator(agent, events)
	require.NoError(t, c.Enqueue(context.Background(), envTargets(10, 20, 30)))

	// let the first job start
	require.Eventually(t, func() bool {
		jobs := c.Snapshot()
		return len(jobs) == 3 && jobs[0].State == models.JobStateRunning
	}, time.Second, time.Millisecond)

	c.Stop()
	waitDrained(t, c)

	jobs := c.Snapshot()
	for _, job := range jobs {
		assert.Equal(t, models.JobStateCancelled, job.State, "target %d", job.TargetID)
	}

	// the pending tail never reached the agent
	assert.Equal(t, []int{10}, agent.startCalls())
	assert.Equal(t, 1, agent.cancelCount("remote-1"))
}

func TestCoordinatorStopWithoutQueueIsNoop(t *testing.T) {
	c := newTestCoordinator(newFakeAgent(), nil)
	c.Stop()
	assert.False(t, c.Running())
}

func TestCoordinatorPublishesQueueSummary(t *testing.T) {
	agent := newFakeAgent()
	agent.failNextStarts(nil, errors.New("rejected"))
	agent.script("remote-1", completedStep(5, 2))

	events := newEventRecorder()
	c := newTestCoordinator(agent, events)
	require.NoError(t, c.Enqueue(context.Background(), envTargets(10, 20)))

	waitDrained(t, c)

	published := events.byType(interfaces.EventQueueCompleted)
	require.Len(t, published, 1)

	summary, ok := published[0].Payload.(models.QueueSummary)
	require.True(t, ok)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Cancelled)
	assert.Equal(t, 2, summary.ItemsFound)
}

func TestCoordinatorResumeFromServer(t *testing.T) {
	agent := newFakeAgent()
	agent.active = []models.ActiveJob{
		{TargetID: 10, RemoteJobID: "srv-1", Kind: models.JobKindDiscovery, State: models.JobStateRunning, Progress: models.JobProgress{Scanned: 4, Found: 1}},
		{TargetID: 20, RemoteJobID: "srv-2", Kind: models.JobKindDiscovery, State: models.JobStatePending},
		{TargetID: 30, RemoteJobID: "srv-3", Kind: models.JobKindMapping, State: models.JobStateRunning},
	}
	agent.script("srv-1", completedStep(8, 2))
	agent.script("srv-2", completedStep(3, 1))

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.ResumeFromServer(context.Background(), envTargets(10, 20)))

	waitDrained(t, c)

	jobs := c.Snapshot()
	require.Len(t, jobs, 2, "mapping jobs are not the coordinator's")

	assert.Equal(t, "srv-1", jobs[0].RemoteJobID)
	assert.Equal(t, models.JobStateCompleted, jobs[0].State)
	assert.Equal(t, "srv-2", jobs[1].RemoteJobID)
	assert.Equal(t, models.JobStateCompleted, jobs[1].State)

	// re-attached, never restarted
	assert.Empty(t, agent.startCalls())
}

func TestCoordinatorResumeFlagsOrphanedJobs(t *testing.T) {
	agent := newFakeAgent()
	agent.active = []models.ActiveJob{
		{TargetID: 99, RemoteJobID: "srv-1", Kind: models.JobKindDiscovery, State: models.JobStateRunning},
	}
	agent.script("srv-1", completedStep(1, 0))

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.ResumeFromServer(context.Background(), envTargets(10)))

	jobs := c.Snapshot()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Orphaned)

	waitDrained(t, c)
}

func TestCoordinatorResumeWithNothingActive(t *testing.T) {
	agent := newFakeAgent()

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.ResumeFromServer(context.Background(), nil))

	assert.False(t, c.Running())
	assert.Empty(t, c.Snapshot())
}

func TestCoordinatorResumeSurfacesListError(t *testing.T) {
	agent := newFakeAgent()
	agent.activeErr = errTransport

	c := newTestCoordinator(agent, nil)
	err := c.ResumeFromServer(context.Background(), nil)

	assert.Error(t, err)
	assert.False(t, c.Running())
}

func TestCoordinatorResetRescopesProject(t *testing.T) {
	agent := newFakeAgent()
	agent.script("remote-1", completedStep(1, 0))

	c := newTestCoordinator(agent, nil)
	require.NoError(t, c.Enqueue(context.Background(), envTargets(10)))
	waitDrained(t, c)

	c.Reset(context.Background(), "proj-2")

	assert.Empty(t, c.Snapshot())

	agent.script("remote-2", completedStep(1, 0))
	require.NoError(t, c.Enqueue(context.Background(), envTargets(20)))
	waitDrained(t, c)

	jobs := c.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "proj-2", jobs[0].Project)
}
