package interfaces

import (
	"context"

	"github.com/ternarybob/reperio/internal/models"
)

// QueueCoordinator runs an ordered list of discovery targets strictly
// one remote job at a time, advancing on terminal states regardless of
// individual outcomes.
type QueueCoordinator interface {
	Enqueue(ctx context.Context, targets []models.Target) error
	Stop()
	ResumeFromServer(ctx context.Context, known []models.Target) error
	Reset(ctx context.Context, project string)
	Snapshot() []models.TrackedJob
	Running() bool
}

// SessionTracker manages independent, concurrently running mapping
// jobs keyed by target ID, each with its own poll loop and cancel.
type SessionTracker interface {
	Start(ctx context.Context, target models.Target) (models.TrackedJob, error)
	Cancel(ctx context.Context, targetID int) (models.TrackedJob, error)
	RestoreActive(ctx context.Context, known []models.Target) error
	Reset(ctx context.Context, project string, known []models.Target) error
	Snapshot() []models.TrackedJob
}
