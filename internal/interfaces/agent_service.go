package interfaces

import (
	"context"

	"github.com/ternarybob/reperio/internal/models"
)

// AgentService is the client-side contract with the remote
// discovery/mapping agent. All calls are request/response over
// authenticated HTTP; job execution itself happens on the agent.
type AgentService interface {
	// StartDiscovery submits an environment crawl and returns the remote job ID
	StartDiscovery(ctx context.Context, targetID int, opts models.DiscoveryOptions) (string, error)

	// StartMapping submits a per-form mapping run and returns the remote job ID
	StartMapping(ctx context.Context, targetID int) (string, error)

	// JobStatus fetches the current status snapshot for a remote job
	JobStatus(ctx context.Context, remoteJobID string) (*models.JobStatusSnapshot, error)

	// CancelJob requests cancellation of a remote job. The request is an
	// ack only; cancellation is confirmed by observing a terminal state
	// in subsequent JobStatus responses.
	CancelJob(ctx context.Context, remoteJobID string) error

	// ActiveJobs lists jobs the agent is still executing for a project
	ActiveJobs(ctx context.Context, project string) ([]models.ActiveJob, error)
}
