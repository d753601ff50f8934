package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/app"
	"github.com/yourusername/streamvault-go/internal/domain"
)

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	orchestrator *app.Orchestrator
	logger       *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(orchestrator *app.Orchestrator, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// AddDownloadRequest represents a request to enqueue a download
type AddDownloadRequest struct {
	Kind        string            `json:"kind" binding:"required,oneof=movie episode"`
	ContentID   int64             `json:"content_id"`
	ShowID      int64             `json:"show_id"`
	Season      int               `json:"season"`
	Episode     int               `json:"episode"`
	Title       string            `json:"title" binding:"required"`
	PosterURL   string            `json:"poster_url"`
	StreamURL   string            `json:"stream_url" binding:"required"`
	Headers     map[string]string `json:"headers"`
	SubtitleURL string            `json:"subtitle_url"`
	Source      string            `json:"source"`
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req AddDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.orchestrator.Enqueue(domain.ContentRequest{
		Kind:        domain.ContentKind(req.Kind),
		ContentID:   req.ContentID,
		ShowID:      req.ShowID,
		Season:      req.Season,
		Episode:     req.Episode,
		Title:       req.Title,
		PosterURL:   req.PosterURL,
		StreamURL:   req.StreamURL,
		Headers:     req.Headers,
		SubtitleURL: req.SubtitleURL,
		Source:      req.Source,
	})
	if err != nil {
		h.logger.Error("Failed to enqueue download", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, task)
}

// GetDownload handles GET /api/v1/downloads/:id
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	task := h.orchestrator.Task(c.Param("id"))
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	tasks := h.orchestrator.Tasks()

	if status := c.Query("status"); status != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.State) == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	c.JSON(http.StatusOK, tasks)
}

// GetStats handles GET /api/v1/downloads/stats
func (h *DownloadHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Stats())
}

// GetStorage handles GET /api/v1/downloads/storage
func (h *DownloadHandler) GetStorage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bytes_used": h.orchestrator.StorageUsed()})
}

// PauseDownload handles POST /api/v1/downloads/:id/pause
func (h *DownloadHandler) PauseDownload(c *gin.Context) {
	h.taskAction(c, h.orchestrator.Pause, "download paused")
}

// ResumeDownload handles POST /api/v1/downloads/:id/resume
func (h *DownloadHandler) ResumeDownload(c *gin.Context) {
	h.taskAction(c, h.orchestrator.Resume, "download resumed")
}

// CancelDownload handles POST /api/v1/downloads/:id/cancel
func (h *DownloadHandler) CancelDownload(c *gin.Context) {
	h.taskAction(c, h.orchestrator.Cancel, "download cancelled")
}

// DeleteDownload handles DELETE /api/v1/downloads/:id
func (h *DownloadHandler) DeleteDownload(c *gin.Context) {
	deleteFile := c.Query("delete_file") != "false"
	id := c.Param("id")

	if err := h.orchestrator.Remove(id, deleteFile); err != nil {
		h.respondError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "download removed"})
}

// PauseAll handles POST /api/v1/downloads/pause-all
func (h *DownloadHandler) PauseAll(c *gin.Context) {
	h.orchestrator.PauseAll()
	c.JSON(http.StatusOK, gin.H{"message": "all active downloads paused"})
}

// ResumeAll handles POST /api/v1/downloads/resume-all
func (h *DownloadHandler) ResumeAll(c *gin.Context) {
	h.orchestrator.ResumeAll()
	c.JSON(http.StatusOK, gin.H{"message": "all paused downloads resumed"})
}

// RetryFailed handles POST /api/v1/downloads/retry-failed
func (h *DownloadHandler) RetryFailed(c *gin.Context) {
	h.orchestrator.RetryAllFailed()
	c.JSON(http.StatusOK, gin.H{"message": "all failed downloads re-queued"})
}

// CancelActive handles POST /api/v1/downloads/cancel-active
func (h *DownloadHandler) CancelActive(c *gin.Context) {
	h.orchestrator.CancelAllActive()
	c.JSON(http.StatusOK, gin.H{"message": "all active downloads cancelled"})
}

// DeleteCompleted handles DELETE /api/v1/downloads/completed
func (h *DownloadHandler) DeleteCompleted(c *gin.Context) {
	h.orchestrator.DeleteAllCompleted()
	c.JSON(http.StatusOK, gin.H{"message": "all completed downloads deleted"})
}

// DeleteAll handles DELETE /api/v1/downloads
func (h *DownloadHandler) DeleteAll(c *gin.Context) {
	h.orchestrator.DeleteAll()
	c.JSON(http.StatusOK, gin.H{"message": "all downloads deleted"})
}

func (h *DownloadHandler) taskAction(c *gin.Context, action func(string) error, message string) {
	id := c.Param("id")
	if err := action(id); err != nil {
		h.respondError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *DownloadHandler) respondError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, app.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
	case errors.Is(err, app.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Download operation failed", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
