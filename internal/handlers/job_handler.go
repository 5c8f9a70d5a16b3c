package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/orchestrator"
)

// JobHandler exposes the orchestration operations to the dashboard:
// the discovery queue, mapping sessions, merged results and project
// scope changes.
type JobHandler struct {
	coordinator interfaces.QueueCoordinator
	tracker     interfaces.SessionTracker
	jobStorage  interfaces.JobStorage
	results     *orchestrator.ResultSet
	events      interfaces.EventService
	validate    *validator.Validate
	logger      arbor.ILogger
}

func NewJobHandler(
	coordinator interfaces.QueueCoordinator,
	tracker interfaces.SessionTracker,
	jobStorage interfaces.JobStorage,
	results *orchestrator.ResultSet,
	events interfaces.EventService,
) *JobHandler {
	return &JobHandler{
		coordinator: coordinator,
		tracker:     tracker,
		jobStorage:  jobStorage,
		results:     results,
		events:      events,
		validate:    validator.New(),
		logger:      common.GetLogger(),
	}
}

type targetRequest struct {
	ID   int    `json:"id" validate:"required,gt=0"`
	Name string `json:"name"`
}

type enqueueRequest struct {
	Targets []targetRequest `json:"targets" validate:"min=1,dive"`
}

type projectRequest struct {
	Project string          `json:"project" validate:"required"`
	Targets []targetRequest `json:"targets"`
}

func toTargets(reqs []targetRequest, kind models.TargetKind) []models.Target {
	targets := make([]models.Target, len(reqs))
	for i, t := range reqs {
		targets[i] = models.Target{ID: t.ID, Name: t.Name, Kind: kind}
	}
	return targets
}

// EnqueueDiscoveryHandler starts a discovery queue over the submitted
// environment targets. POST /api/discovery/enqueue
func (h *JobHandler) EnqueueDiscoveryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid targets: "+err.Error())
		return
	}

	targets := toTargets(req.Targets, models.TargetKindEnvironment)
	if err := h.coordinator.Enqueue(r.Context(), targets); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			WriteError(w, http.StatusConflict, "A discovery queue is already running")
		case errors.Is(err, orchestrator.ErrNoTargets):
			WriteError(w, http.StatusBadRequest, "Target list is empty")
		default:
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.logger.Info().Int("targets", len(targets)).Msg("Discovery queue accepted")
	WriteStarted(w, "Discovery queue started")
}

// StopDiscoveryHandler stops the running discovery queue.
// POST /api/discovery/stop
func (h *JobHandler) StopDiscoveryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	h.coordinator.Stop()
	WriteSuccess(w, "Discovery queue stopping")
}

// StartMappingHandler begins a mapping job for one form target.
// POST /api/mapping/{target_id}/start
func (h *JobHandler) StartMappingHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	targetID, ok := PathTargetID(r.URL.Path, "/api/mapping/")
	if !ok {
		WriteError(w, http.StatusBadRequest, "Invalid target id")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if r.Body != nil {
		// the name is display-only, a missing body is fine
		json.NewDecoder(r.Body).Decode(&body)
	}

	target := models.Target{ID: targetID, Name: body.Name, Kind: models.TargetKindForm}
	job, err := h.tracker.Start(r.Context(), target)
	if err != nil {
		if errors.Is(err, orchestrator.ErrDuplicateActive) {
			WriteJSON(w, http.StatusConflict, map[string]interface{}{
				"status": "error",
				"error":  "Mapping already active for target",
				"job":    job,
			})
			return
		}
		// start rejected by the agent: the failed attempt is recorded
		// and returned so the UI can show it
		WriteJSON(w, http.StatusBadGateway, map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
			"job":    job,
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "started",
		"job":    job,
	})
}

// CancelMappingHandler cancels the active mapping job for a target.
// POST /api/mapping/{target_id}/cancel
func (h *JobHandler) CancelMappingHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	targetID, ok := PathTargetID(r.URL.Path, "/api/mapping/")
	if !ok {
		WriteError(w, http.StatusBadRequest, "Invalid target id")
		return
	}

	job, err := h.tracker.Cancel(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No active job for target")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "stopping",
		"job":    job,
	})
}

// ListJobsHandler returns the live orchestration state: the discovery
// queue in order plus every tracked mapping session. With ?history=true
// it returns persisted job history instead. GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	if r.URL.Query().Get("history") == "true" {
		opts := &interfaces.JobListOptions{
			State:    models.JobState(r.URL.Query().Get("state")),
			Kind:     models.JobKind(r.URL.Query().Get("kind")),
			TargetID: QueryInt(r, "target_id", 0),
			Limit:    QueryInt(r, "limit", 50),
			Offset:   QueryInt(r, "offset", 0),
		}
		jobs, err := h.jobStorage.ListJobs(r.Context(), opts)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":  jobs,
			"count": len(jobs),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"queue":         h.coordinator.Snapshot(),
		"queue_running": h.coordinator.Running(),
		"sessions":      h.tracker.Snapshot(),
	})
}

// GetJobStatsHandler returns job counts by state from storage.
// GET /api/jobs/stats
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	total, err := h.jobStorage.CountJobs(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}

	stats := map[string]interface{}{
		"total":   total,
		"results": h.results.Len(),
	}
	for _, state := range []models.JobState{
		models.JobStatePending,
		models.JobStateRunning,
		models.JobStateCompleted,
		models.JobStateFailed,
		models.JobStateCancelled,
	} {
		count, err := h.jobStorage.CountJobsByState(r.Context(), state)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to count jobs")
			return
		}
		stats[string(state)] = count
	}

	WriteJSON(w, http.StatusOK, stats)
}

// GetResultsHandler returns the merged result collection, optionally
// filtered by target. GET /api/results
func (h *JobHandler) GetResultsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	targetID := QueryInt(r, "target_id", 0)
	limit := QueryInt(r, "limit", 0)

	items := h.results.Snapshot()
	if targetID != 0 {
		filtered := items[:0]
		for _, item := range items {
			if item.TargetID == targetID {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// SetProjectHandler rescopes orchestration to a different project:
// stops the queue, detaches mapping sessions, clears merged results and
// restores whatever the agent reports active for the new scope.
// POST /api/project
func (h *JobHandler) SetProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Project is required")
		return
	}

	// A missing target list means the caller's targets are unknown, not
	// empty; restored jobs are only flagged orphaned against a real list.
	var known []models.Target
	if len(req.Targets) > 0 {
		known = toTargets(req.Targets, models.TargetKindForm)
	}

	h.results.Clear()
	h.coordinator.Reset(r.Context(), req.Project)
	if err := h.tracker.Reset(r.Context(), req.Project, known); err != nil {
		h.logger.Warn().Err(err).Str("project", req.Project).Msg("Failed to restore sessions for new project")
	}

	if h.events != nil {
		h.events.Publish(r.Context(), interfaces.Event{
			Type:    interfaces.EventProjectChanged,
			Payload: models.ProjectChangedEvent{Project: req.Project},
		})
	}

	h.logger.Info().Str("project", req.Project).Msg("Project scope changed")
	WriteSuccess(w, "Project changed")
}
