// Package api exposes the download engine over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/api/handlers"
	"github.com/yourusername/streamvault-go/api/middleware"
	"github.com/yourusername/streamvault-go/internal/app"
	"github.com/yourusername/streamvault-go/internal/infrastructure"
)

// SetupRouter sets up the HTTP router
func SetupRouter(orchestrator *app.Orchestrator, notifier *infrastructure.Notifier, log *zap.Logger) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(orchestrator)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(orchestrator, log)
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.AddDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/stats", downloadHandler.GetStats)
			downloads.GET("/storage", downloadHandler.GetStorage)
			downloads.GET("/:id", downloadHandler.GetDownload)
			downloads.POST("/:id/pause", downloadHandler.PauseDownload)
			downloads.POST("/:id/resume", downloadHandler.ResumeDownload)
			downloads.POST("/:id/cancel", downloadHandler.CancelDownload)
			downloads.DELETE("/:id", downloadHandler.DeleteDownload)
			downloads.POST("/pause-all", downloadHandler.PauseAll)
			downloads.POST("/resume-all", downloadHandler.ResumeAll)
			downloads.POST("/retry-failed", downloadHandler.RetryFailed)
			downloads.POST("/cancel-active", downloadHandler.CancelActive)
			downloads.DELETE("/completed", downloadHandler.DeleteCompleted)
			downloads.DELETE("", downloadHandler.DeleteAll)
		}

		// Task-change event stream for UI clients
		eventsHandler := handlers.NewEventsWebSocketHandler(orchestrator, notifier, log)
		v1.GET("/events/ws", eventsHandler.HandleWebSocket)
	}

	return router
}
