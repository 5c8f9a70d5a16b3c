package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// testIntervals keeps poll loops fast enough for Eventually assertions.
func testIntervals() Intervals {
	return Intervals{
		Poll:          5 * time.Millisecond,
		CancelPoll:    5 * time.Millisecond,
		CancelTimeout: 80 * time.Millisecond,
	}
}

var errTransport = errors.New("connection refused")

// statusStep is one scripted poll response (or transport error).
type statusStep struct {
	status *models.JobStatusSnapshot
	err    error
}

func runningStep(scanned, found int, items ...models.ResultItem) statusStep {
	return statusStep{status: &models.JobStatusSnapshot{
		State:    models.JobStateRunning,
		Progress: models.JobProgress{Scanned: scanned, Found: found},
		Items:    items,
	}}
}

func completedStep(scanned, found int, items ...models.ResultItem) statusStep {
	return statusStep{status: &models.JobStatusSnapshot{
		State:    models.JobStateCompleted,
		Progress: models.JobProgress{Scanned: scanned, Found: found},
		Items:    items,
	}}
}

func failedStep(code, message string) statusStep {
	return statusStep{status: &models.JobStatusSnapshot{
		State:        models.JobStateFailed,
		ErrorCode:    code,
		ErrorMessage: message,
	}}
}

func transportStep() statusStep {
	return statusStep{err: errTransport}
}

func item(id string, targetID int) models.ResultItem {
	return models.ResultItem{
		ID:       id,
		TargetID: targetID,
		Kind:     models.ResultKindPage,
		URL:      "https://example.com/" + id,
	}
}

// fakeAgent is a scripted AgentService. Remote job IDs are assigned
// deterministically (remote-1, remote-2, ...) so tests can script
// status sequences per ID up front. The last scripted step repeats
// once the script is exhausted; an unscripted job reports running.
type fakeAgent struct {
	mu        sync.Mutex
	jobSeq    int
	startErrs []error
	starts    []int
	statuses  map[string][]statusStep
	cancels   map[string]int
	cancelErr error
	active    []models.ActiveJob
	activeErr error

	// cancelFinalizes makes a cancelled job report cancelled on
	// subsequent polls, simulating an agent that honors cancels.
	cancelFinalizes bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		statuses: make(map[string][]statusStep),
		cancels:  make(map[string]int),
	}
}

// script sets the poll responses for a remote job ID.
func (f *fakeAgent) script(remoteID string, steps ...statusStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[remoteID] = steps
}

// failNextStarts queues errors for upcoming start calls; a nil entry
// means that start succeeds.
func (f *fakeAgent) failNextStarts(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErrs = append(f.startErrs, errs...)
}

func (f *fakeAgent) startCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.starts))
	copy(out, f.starts)
	return out
}

func (f *fakeAgent) cancelCount(remoteID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels[remoteID]
}

func (f *fakeAgent) start(targetID int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return "", err
		}
	}

	f.jobSeq++
	f.starts = append(f.starts, targetID)
	return fmt.Sprintf("remote-%d", f.jobSeq), nil
}

func (f *fakeAgent) StartDiscovery(ctx context.Context, targetID int, opts models.DiscoveryOptions) (string, error) {
	return f.start(targetID)
}

func (f *fakeAgent) StartMapping(ctx context.Context, targetID int) (string, error) {
	return f.start(targetID)
}

func (f *fakeAgent) JobStatus(ctx context.Context, remoteJobID string) (*models.JobStatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelFinalizes && f.cancels[remoteJobID] > 0 {
		return &models.JobStatusSnapshot{State: models.JobStateCancelled}, nil
	}

	queue := f.statuses[remoteJobID]
	if len(queue) == 0 {
		return &models.JobStatusSnapshot{State: models.JobStateRunning}, nil
	}

	step := queue[0]
	if len(queue) > 1 {
		f.statuses[remoteJobID] = queue[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	status := *step.status
	return &status, nil
}

func (f *fakeAgent) CancelJob(ctx context.Context, remoteJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels[remoteJobID]++
	return nil
}

func (f *fakeAgent) ActiveJobs(ctx context.Context, project string) ([]models.ActiveJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.activeErr
}

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{}
}

func (r *eventRecorder) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (r *eventRecorder) Publish(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) PublishSync(ctx context.Context, event interfaces.Event) error {
	return r.Publish(ctx, event)
}

func (r *eventRecorder) Close() error {
	return nil
}

func (r *eventRecorder) byType(eventType interfaces.EventType) []interfaces.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
