package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webtestflow/recorder/internal/api/handlers"
	"webtestflow/recorder/internal/api/middleware"
	"webtestflow/recorder/internal/metrics"
	"webtestflow/recorder/pkg/hooktoken"
)

// Deps is what the router needs beyond the handler itself.
type Deps struct {
	Handler  *handlers.Handler
	Signer   *hooktoken.Signer
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	BasePath string
}

func SetupRoutes(d Deps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	if d.Logger != nil {
		router.Use(middleware.Logger(d.Logger.Named("http"), d.BasePath+"/hooks/"))
	}

	h := d.Handler
	base := router.Group(d.BasePath)

	// Page callbacks, authorized per session by hook token.
	hooks := base.Group("/hooks/:sessionKey")
	hooks.Use(middleware.HookToken(d.Signer))
	{
		hooks.POST("/event", h.HookEvent)
		hooks.POST("/status", h.HookStatus)
		hooks.POST("/browser-info", h.HookBrowserInfo)
		hooks.POST("/reinject", h.HookReinject)
		hooks.GET("/info", h.HookInfo)
	}

	v1 := base.Group("/api/v1")
	{
		v1.GET("/health", h.HealthCheck)
		if d.Metrics != nil {
			v1.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
		}
		v1.GET("/devices", h.GetDevices)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/ws/recording", h.RecordingWebSocket)

		recording := v1.Group("/recording")
		{
			recording.POST("/start", h.StartRecording)
			recording.POST("/:id/stop", h.StopRecording())
			recording.POST("/:id/pause", h.PauseRecording())
			recording.POST("/:id/resume", h.ResumeRecording())
			recording.GET("/:id", h.GetRecordingStatus)
			recording.GET("/:id/debug", h.GetRecordingDebug)
			recording.GET("/:id/screenshot", h.GetRecordingScreenshot)
		}

		v1.GET("/recordings/:id/events", h.GetRecordingEvents)
	}

	return router
}
