package interfaces

import (
	"context"

	"github.com/ternarybob/reperio/internal/models"
)

// JobListOptions filters and paginates job history listings
type JobListOptions struct {
	Project  string
	State    models.JobState
	Kind     models.JobKind
	TargetID int
	Limit    int
	Offset   int
}

// JobStorage persists every TrackedJob transition so job history
// survives restarts (in-flight orchestration state does not; that is
// rebuilt from the agent's active-jobs listing).
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.TrackedJob) error
	GetJob(ctx context.Context, jobID string) (*models.TrackedJob, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.TrackedJob, error)
	CountJobs(ctx context.Context) (int, error)
	CountJobsByState(ctx context.Context, state models.JobState) (int, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// ResultStorage persists merged result items per target
type ResultStorage interface {
	SaveResults(ctx context.Context, items []models.ResultItem) error
	ListResults(ctx context.Context, targetID int, limit int) ([]*models.ResultItem, error)
	CountResults(ctx context.Context) (int, error)
	DeleteResultsForTarget(ctx context.Context, targetID int) error
}
