package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/app"
	"github.com/yourusername/streamvault-go/internal/domain"
	"github.com/yourusername/streamvault-go/internal/infrastructure"
)

func TestEventsWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)

	media := blockingServer(t)

	dir := t.TempDir()
	log := zap.NewNop()
	store := infrastructure.NewFileTaskStore(dir, log)
	notifier := infrastructure.NewNotifier(log)
	orchestrator := app.NewOrchestrator(domain.DownloadConfig{
		Dir:             dir,
		ConcurrentLimit: 1,
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
		RequestTimeout:  time.Hour,
	}, store, notifier, log)
	require.NoError(t, orchestrator.Start())
	t.Cleanup(orchestrator.Stop)

	router := gin.New()
	handler := NewEventsWebSocketHandler(orchestrator, notifier, log)
	router.GET("/api/v1/events/ws", handler.HandleWebSocket)

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// The connection opens with a snapshot of current state
	var initial infrastructure.TaskEvent
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Empty(t, initial.Tasks)
	assert.Equal(t, 0, initial.ActiveCount)

	// A state change pushes a fresh snapshot
	_, err = orchestrator.Enqueue(domain.ContentRequest{
		Kind:      domain.KindMovie,
		ContentID: 1,
		Title:     "Some Movie",
		StreamURL: media.URL + "/movie.mp4",
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event infrastructure.TaskEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Len(t, event.Tasks, 1)
	assert.Equal(t, "movie:1", event.Tasks[0].ID)
}
