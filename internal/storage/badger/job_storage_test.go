package badger

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func openTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func trackedJob(id string, targetID int, state models.JobState) *models.TrackedJob {
	return &models.TrackedJob{
		ID:        id,
		Project:   "proj-1",
		TargetID:  targetID,
		Kind:      models.JobKindDiscovery,
		State:     state,
		CreatedAt: time.Now(),
	}
}

func TestJobPersistence(t *testing.T) {
	db := openTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := trackedJob("job-1", 10, models.JobStateRunning)
	job.RemoteJobID = "remote-1"
	job.Progress = models.JobProgress{Scanned: 5, Found: 2}

	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	loaded, err := storage.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if loaded.RemoteJobID != "remote-1" {
		t.Errorf("Expected remote job id remote-1, got %s", loaded.RemoteJobID)
	}
	if loaded.Progress.Scanned != 5 || loaded.Progress.Found != 2 {
		t.Errorf("Progress not persisted: %+v", loaded.Progress)
	}

	// Upsert on transition
	job.State = models.JobStateCompleted
	job.EndedAt = time.Now()
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to update job: %v", err)
	}

	loaded, err = storage.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to reload job: %v", err)
	}
	if loaded.State != models.JobStateCompleted {
		t.Errorf("Expected completed, got %s", loaded.State)
	}
}

func TestJobValidation(t *testing.T) {
	db := openTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := storage.SaveJob(ctx, nil); err == nil {
		t.Error("Expected error for nil job")
	}
	if err := storage.SaveJob(ctx, &models.TrackedJob{}); err == nil {
		t.Error("Expected error for missing job ID")
	}
	if _, err := storage.GetJob(ctx, "missing"); err == nil {
		t.Error("Expected error for unknown job ID")
	}
}

func TestListJobsFiltering(t *testing.T) {
	db := openTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	jobs := []*models.TrackedJob{
		trackedJob("job-1", 10, models.JobStateCompleted),
		trackedJob("job-2", 20, models.JobStateFailed),
		trackedJob("job-3", 10, models.JobStateRunning),
	}
	jobs[2].Kind = models.JobKindMapping

	for _, job := range jobs {
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatalf("Failed to save job %s: %v", job.ID, err)
		}
	}

	byState, err := storage.ListJobs(ctx, &interfaces.JobListOptions{State: models.JobStateFailed})
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(byState) != 1 || byState[0].ID != "job-2" {
		t.Errorf("Expected only job-2, got %d jobs", len(byState))
	}

	byTarget, err := storage.ListJobs(ctx, &interfaces.JobListOptions{TargetID: 10})
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(byTarget) != 2 {
		t.Errorf("Expected 2 jobs for target 10, got %d", len(byTarget))
	}

	byKind, err := storage.ListJobs(ctx, &interfaces.JobListOptions{Kind: models.JobKindMapping})
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(byKind) != 1 || byKind[0].ID != "job-3" {
		t.Errorf("Expected only job-3, got %d jobs", len(byKind))
	}
}

func TestCountJobsByState(t *testing.T) {
	db := openTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i, state := range []models.JobState{
		models.JobStateCompleted,
		models.JobStateCompleted,
		models.JobStateCancelled,
	} {
		job := trackedJob(string(rune('a'+i)), i, state)
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatalf("Failed to save job: %v", err)
		}
	}

	total, err := storage.CountJobs(ctx)
	if err != nil {
		t.Fatalf("Failed to count jobs: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected 3 jobs, got %d", total)
	}

	completed, err := storage.CountJobsByState(ctx, models.JobStateCompleted)
	if err != nil {
		t.Fatalf("Failed to count completed jobs: %v", err)
	}
	if completed != 2 {
		t.Errorf("Expected 2 completed jobs, got %d", completed)
	}
}

func TestResultPersistence(t *testing.T) {
	db := openTestDB(t)
	storage := NewResultStorage(db, arbor.NewLogger())
	ctx := context.Background()

	items := []models.ResultItem{
		{ID: "item-1", TargetID: 10, Kind: models.ResultKindPage, URL: "https://example.com/contact"},
		{ID: "item-2", TargetID: 10, Kind: models.ResultKindPage, URL: "https://example.com/signup"},
		{ID: "item-3", TargetID: 20, Kind: models.ResultKindFormPath, URL: "https://example.com/checkout"},
	}
	if err := storage.SaveResults(ctx, items); err != nil {
		t.Fatalf("Failed to save results: %v", err)
	}

	// Saving the same batch again is idempotent
	if err := storage.SaveResults(ctx, items); err != nil {
		t.Fatalf("Failed to re-save results: %v", err)
	}

	total, err := storage.CountResults(ctx)
	if err != nil {
		t.Fatalf("Failed to count results: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected 3 results, got %d", total)
	}

	forTarget, err := storage.ListResults(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list results: %v", err)
	}
	if len(forTarget) != 2 {
		t.Errorf("Expected 2 results for target 10, got %d", len(forTarget))
	}

	if err := storage.DeleteResultsForTarget(ctx, 10); err != nil {
		t.Fatalf("Failed to delete results: %v", err)
	}

	total, err = storage.CountResults(ctx)
	if err != nil {
		t.Fatalf("Failed to count results: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 result after delete, got %d", total)
	}
}
