package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Discovery queue
	mux.HandleFunc("/api/discovery/enqueue", s.app.JobHandler.EnqueueDiscoveryHandler)
	mux.HandleFunc("/api/discovery/stop", s.app.JobHandler.StopDiscoveryHandler)

	// API routes - Mapping sessions (/api/mapping/{target_id}/start|cancel)
	mux.HandleFunc("/api/mapping/", s.handleMappingRoutes)

	// API routes - Jobs and results
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.GetJobStatsHandler)
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/results", s.app.JobHandler.GetResultsHandler)

	// API routes - Project scope
	mux.HandleFunc("/api/project", s.app.JobHandler.SetProjectHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleMappingRoutes routes /api/mapping/{target_id}/start|cancel
func (s *Server) handleMappingRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if strings.HasSuffix(path, "/start") {
		s.app.JobHandler.StartMappingHandler(w, r)
		return
	}
	if strings.HasSuffix(path, "/cancel") {
		s.app.JobHandler.CancelMappingHandler(w, r)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}
