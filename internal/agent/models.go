package agent

import (
	"fmt"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// startDiscoveryRequest is the wire payload for POST /api/discovery/start
type startDiscoveryRequest struct {
	TargetID int                     `json:"target_id"`
	Options  models.DiscoveryOptions `json:"options"`
}

// startMappingRequest is the wire payload for POST /api/mapping/start
type startMappingRequest struct {
	TargetID int `json:"target_id"`
}

// startResponse is returned by both start endpoints
type startResponse struct {
	JobID string `json:"job_id"`
}

// cancelResponse is the ack from POST /api/jobs/{id}/cancel
type cancelResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// activeJobsResponse wraps GET /api/jobs/active
type activeJobsResponse struct {
	Jobs []models.ActiveJob `json:"jobs"`
}

// APIError represents an error response from the agent API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError represents a client-side rate limit wait failure.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("agent rate limit exceeded, retry after %v", e.RetryAfter)
}
