package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/app"
	"github.com/yourusername/streamvault-go/internal/infrastructure"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// EventsWebSocketHandler streams task-list changes to UI clients.
type EventsWebSocketHandler struct {
	orchestrator *app.Orchestrator
	notifier     *infrastructure.Notifier
	logger       *zap.Logger
}

// NewEventsWebSocketHandler creates a new WebSocket handler
func NewEventsWebSocketHandler(orchestrator *app.Orchestrator, notifier *infrastructure.Notifier, logger *zap.Logger) *EventsWebSocketHandler {
	return &EventsWebSocketHandler{
		orchestrator: orchestrator,
		notifier:     notifier,
		logger:       logger,
	}
}

// HandleWebSocket handles GET /api/v1/events/ws. Each state change pushes
// a full task-list snapshot plus the active-count badge value.
func (h *EventsWebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.notifier.Subscribe()
	defer cancel()

	h.logger.Info("WebSocket client connected",
		zap.String("remote_addr", c.Request.RemoteAddr))

	// Send the current state immediately so clients need no separate fetch.
	initial := infrastructure.TaskEvent{
		Tasks:       h.orchestrator.Tasks(),
		ActiveCount: h.orchestrator.ActiveCount(),
	}
	if err := conn.WriteJSON(initial); err != nil {
		h.logger.Debug("Failed to send initial snapshot", zap.Error(err))
		return
	}

	// Detect client disconnect; incoming messages are ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("WebSocket write failed, dropping client", zap.Error(err))
				return
			}
		case <-closed:
			h.logger.Info("WebSocket client disconnected",
				zap.String("remote_addr", c.Request.RemoteAddr))
			return
		}
	}
}
