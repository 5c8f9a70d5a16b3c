package events

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs job lifecycle events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	if logger == nil {
		logger = common.GetLogger()
	}

	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.TrackedJob:
			logEvent = logEvent.
				Str("job_id", payload.ID).
				Int("target_id", payload.TargetID).
				Str("state", string(payload.State))
			if payload.RemoteJobID != "" {
				logEvent = logEvent.Str("remote_job_id", payload.RemoteJobID)
			}
		case models.ResultsMergedEvent:
			logEvent = logEvent.
				Int("target_id", payload.TargetID).
				Int("count", payload.Count)
		case models.QueueSummary:
			logEvent = logEvent.
				Int("total", payload.Total).
				Int("completed", payload.Completed).
				Int("failed", payload.Failed).
				Int("cancelled", payload.Cancelled)
		case models.ProjectChangedEvent:
			logEvent = logEvent.Str("project", payload.Project)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventJobProgress,
		interfaces.EventJobStopping,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventJobCancelled,
		interfaces.EventResultsMerged,
		interfaces.EventQueueCompleted,
		interfaces.EventProjectChanged,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return err
		}
	}

	return nil
}
