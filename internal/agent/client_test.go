package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/models"
)

func TestStartDiscovery(t *testing.T) {
	var got startDiscoveryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/discovery/start", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(startResponse{JobID: "remote-42"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")

	jobID, err := client.StartDiscovery(context.Background(), 7, models.DiscoveryOptions{MaxDepth: 3, MaxPages: 100})
	require.NoError(t, err)
	assert.Equal(t, "remote-42", jobID)
	assert.Equal(t, 7, got.TargetID)
	assert.Equal(t, 3, got.Options.MaxDepth)
}

func TestStartDiscoveryRejectsEmptyJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(startResponse{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	_, err := client.StartDiscovery(context.Background(), 7, models.DiscoveryOptions{})
	assert.Error(t, err)
}

func TestStartMappingSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "form no longer exists", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	_, err := client.StartMapping(context.Background(), 7)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "form no longer exists")
}

func TestJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/remote-1/status", r.URL.Path)
		json.NewEncoder(w).Encode(models.JobStatusSnapshot{
			State:    models.JobStateRunning,
			Progress: models.JobProgress{Scanned: 12, Found: 3},
			Items:    []models.ResultItem{{ID: "p1", TargetID: 7, Kind: models.ResultKindPage}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	status, err := client.JobStatus(context.Background(), "remote-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, status.State)
	assert.Equal(t, models.JobProgress{Scanned: 12, Found: 3}, status.Progress)
	require.Len(t, status.Items, 1)
	assert.Equal(t, "p1", status.Items[0].ID)
}

func TestCancelJob(t *testing.T) {
	cancelled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/jobs/remote-1/cancel", r.URL.Path)
		cancelled = true
		json.NewEncoder(w).Encode(cancelResponse{Acknowledged: true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	require.NoError(t, client.CancelJob(context.Background(), "remote-1"))
	assert.True(t, cancelled)
}

func TestActiveJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/active", r.URL.Path)
		assert.Equal(t, "proj-1", r.URL.Query().Get("project"))
		json.NewEncoder(w).Encode(activeJobsResponse{Jobs: []models.ActiveJob{
			{TargetID: 7, RemoteJobID: "remote-1", Kind: models.JobKindMapping, State: models.JobStateRunning},
		}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	jobs, err := client.ActiveJobs(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "remote-1", jobs[0].RemoteJobID)
}

func TestContextCancellationAbortsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.JobStatus(ctx, "remote-1")
	assert.Error(t, err)
}
