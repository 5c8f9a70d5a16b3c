package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the wire envelope for dashboard pushes
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler broadcasts job lifecycle events to dashboard
// clients. Progress events fire on every poll tick and are throttled;
// terminal transitions are always delivered.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	eventService      interfaces.EventService
	progressThrottler *rate.Limiter
	allowedEvents     map[string]bool // whitelist of events to broadcast (empty = allow all)
	serverInstanceID  string          // unique per startup so clients detect server restarts
	broadcastCount    int64
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	if logger == nil {
		logger = common.GetLogger()
	}

	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		allowedEvents:    make(map[string]bool),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		if interval := config.ProgressThrottleDuration(); interval > 0 {
			h.progressThrottler = rate.NewLimiter(rate.Every(interval), 1)
			logger.Debug().
				Str("interval", interval.String()).
				Msg("Throttler initialized for job_progress events")
		}
	}

	if eventService != nil {
		h.subscribeToJobEvents()
	}

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHello identifies the server instance to a newly connected client
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "hello",
		Payload: map[string]string{
			"server_instance_id": h.serverInstanceID,
			"version":            common.GetVersion(),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send hello")
		}
		mutex.Unlock()
	}
}

// Broadcast sends a message to every connected client
func (h *WebSocketHandler) Broadcast(messageType string, payload interface{}) {
	msg := WSMessage{
		Type:    messageType,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("Failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", messageType).Msg("Failed to send message to client")
		}
	}

	atomic.AddInt64(&h.broadcastCount, 1)
}

// BroadcastCount returns how many messages have been broadcast, used
// for diagnostics.
func (h *WebSocketHandler) BroadcastCount() int64 {
	return atomic.LoadInt64(&h.broadcastCount)
}

// allowed checks the event whitelist (empty whitelist = allow all)
func (h *WebSocketHandler) allowed(eventType interfaces.EventType) bool {
	if len(h.allowedEvents) == 0 {
		return true
	}
	return h.allowedEvents[string(eventType)]
}

// subscribeToJobEvents forwards orchestration events to connected
// clients. The message type on the wire matches the event type.
func (h *WebSocketHandler) subscribeToJobEvents() {
	h.eventService.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
		if !h.allowed(event.Type) {
			return nil
		}
		// Throttled: with several poll loops ticking, per-tick progress
		// would flood slow clients. Terminal events below are not.
		if h.progressThrottler != nil && !h.progressThrottler.Allow() {
			return nil
		}
		h.Broadcast(string(event.Type), event.Payload)
		return nil
	})

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobStopping,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventJobCancelled,
		interfaces.EventResultsMerged,
		interfaces.EventQueueCompleted,
		interfaces.EventProjectChanged,
	} {
		et := eventType
		h.eventService.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			if !h.allowed(et) {
				return nil
			}
			h.Broadcast(string(et), event.Payload)
			return nil
		})
	}
}
