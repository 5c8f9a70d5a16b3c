package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/agent"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/handlers"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/orchestrator"
	"github.com/ternarybob/reperio/internal/services/events"
	"github.com/ternarybob/reperio/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	// Storage
	DB            *badger.BadgerDB
	JobStorage    interfaces.JobStorage
	ResultStorage interfaces.ResultStorage

	// Services
	EventService interfaces.EventService
	AgentService interfaces.AgentService

	// Orchestration
	Results     *orchestrator.ResultSet
	Poller      *orchestrator.Poller
	Coordinator *orchestrator.Coordinator
	Tracker     *orchestrator.Tracker

	// Scheduled active-jobs reconciliation
	resyncCron *cron.Cron

	// HTTP handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
	WSHandler  *handlers.WebSocketHandler
}

// New wires the application together from configuration
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	db, err := badger.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.DB = db
	a.JobStorage = badger.NewJobStorage(db, logger)
	a.ResultStorage = badger.NewResultStorage(db, logger)

	a.EventService = events.NewService(logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, logger); err != nil {
		logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	a.AgentService = agent.NewClient(
		cfg.Agent.BaseURL,
		cfg.Agent.APIKey,
		agent.WithLogger(logger),
		agent.WithRateLimit(cfg.Agent.RateLimit),
		agent.WithHTTPClient(&http.Client{Timeout: cfg.AgentTimeout()}),
	)

	a.Results = orchestrator.NewResultSet(cfg.Orchestrator.PrependResults)

	intervals := orchestrator.Intervals{
		Poll:          cfg.PollInterval(),
		CancelPoll:    cfg.CancelPollInterval(),
		CancelTimeout: cfg.CancelTimeout(),
	}
	a.Poller = orchestrator.NewPoller(
		a.AgentService,
		a.EventService,
		a.Results,
		a.JobStorage,
		a.ResultStorage,
		intervals,
		logger,
	)

	discoveryOpts := models.DiscoveryOptions{
		MaxDepth:      cfg.Discovery.MaxDepth,
		MaxPages:      cfg.Discovery.MaxPages,
		IncludeHidden: cfg.Discovery.IncludeHidden,
	}
	a.Coordinator = orchestrator.NewCoordinator(
		a.AgentService,
		a.EventService,
		a.Poller,
		a.JobStorage,
		cfg.Project.ID,
		discoveryOpts,
		logger,
	)
	a.Tracker = orchestrator.NewTracker(
		a.AgentService,
		a.EventService,
		a.Poller,
		a.JobStorage,
		cfg.Project.ID,
		logger,
	)

	a.APIHandler = handlers.NewAPIHandler()
	a.JobHandler = handlers.NewJobHandler(a.Coordinator, a.Tracker, a.JobStorage, a.Results, a.EventService)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger, &cfg.WebSocket)

	if cfg.Resync.Enabled {
		a.resyncCron = cron.New()
		if _, err := a.resyncCron.AddFunc(cfg.Resync.Schedule, a.resync); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to schedule resync: %w", err)
		}
	}

	logger.Info().
		Str("project", cfg.Project.ID).
		Str("agent", cfg.Agent.BaseURL).
		Msg("Application initialized")

	return a, nil
}

// Start restores orchestration state from the agent and begins the
// scheduled reconciliation. The agent is the source of truth for what
// is still running after a restart.
func (a *App) Start() error {
	if err := a.Coordinator.ResumeFromServer(a.ctx, nil); err != nil {
		// a failed resume leaves the queue empty, not the app broken
		a.Logger.Warn().Err(err).Msg("Failed to resume discovery queue from agent")
	}
	if err := a.Tracker.RestoreActive(a.ctx, nil); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to restore mapping sessions from agent")
	}

	if a.resyncCron != nil {
		a.resyncCron.Start()
		a.Logger.Info().Str("schedule", a.Config.Resync.Schedule).Msg("Active-jobs resync scheduled")
	}

	return nil
}

// resync reconciles local sessions with the agent's active-jobs
// listing, picking up jobs started by other clients of the same agent.
func (a *App) resync() {
	a.Logger.Debug().Msg("Resyncing active jobs from agent")

	if err := a.Coordinator.ResumeFromServer(a.ctx, nil); err != nil && !errors.Is(err, orchestrator.ErrAlreadyRunning) {
		a.Logger.Warn().Err(err).Msg("Discovery resync failed")
	}
	if err := a.Tracker.RestoreActive(a.ctx, nil); err != nil {
		a.Logger.Warn().Err(err).Msg("Mapping resync failed")
	}
}

// Close releases application resources in reverse dependency order
func (a *App) Close() {
	if a.resyncCron != nil {
		a.resyncCron.Stop()
	}

	a.Coordinator.Stop()

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
		}
	}

	a.cancelCtx()
	a.Logger.Info().Msg("Application closed")
}
