package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/pkg/response"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) apiError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.Error(c, status, err.Error())
}

func (h *Handler) StartRecording(c *gin.Context) {
	var cfg models.SessionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if cfg.Viewport.Width < 0 || cfg.Viewport.Height < 0 {
		response.BadRequest(c, "viewport dimensions must not be negative")
		return
	}

	snap, err := h.ctrl.Start(c.Request.Context(), cfg)
	if err != nil {
		h.apiError(c, err)
		return
	}
	response.SuccessWithMessage(c, "recording started", snap)
}

type lifecycleFunc func(ctx context.Context, id string) (models.SessionSnapshot, error)

func (h *Handler) lifecycle(fn lifecycleFunc, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := fn(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.apiError(c, err)
			return
		}
		response.SuccessWithMessage(c, message, snap)
	}
}

func (h *Handler) StopRecording() gin.HandlerFunc {
	return h.lifecycle(h.ctrl.Stop, "recording stopped")
}

func (h *Handler) PauseRecording() gin.HandlerFunc {
	return h.lifecycle(h.ctrl.Pause, "recording paused")
}

func (h *Handler) ResumeRecording() gin.HandlerFunc {
	return h.lifecycle(h.ctrl.Resume, "recording resumed")
}

func (h *Handler) GetRecordingStatus(c *gin.Context) {
	sess, err := h.ctrl.Lookup(c.Param("id"))
	if err != nil {
		h.apiError(c, err)
		return
	}
	response.Success(c, sess.Snapshot())
}

func (h *Handler) GetRecordingDebug(c *gin.Context) {
	info, err := h.ctrl.Debug(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.apiError(c, err)
		return
	}
	response.Success(c, info)
}

func (h *Handler) GetRecordingScreenshot(c *gin.Context) {
	buf, err := h.ctrl.Screenshot(c.Request.Context(), c.Param("id"), c.Query("selector"))
	if err != nil {
		h.apiError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf)
}

// GetRecordingEvents returns the ordered events of a session, finished or
// not.
func (h *Handler) GetRecordingEvents(c *gin.Context) {
	sess, err := h.ctrl.Lookup(c.Param("id"))
	if err != nil {
		h.apiError(c, err)
		return
	}
	events := sess.Events()
	if events == nil {
		events = make([]models.RecordedEvent, 0)
	}
	snap := sess.Snapshot()
	response.Success(c, gin.H{
		"sessionId": snap.ID,
		"status":    snap.Status,
		"endTime":   snap.EndTime,
		"events":    events,
	})
}

func (h *Handler) ListSessions(c *gin.Context) {
	active := h.ctrl.Registry().List()
	out := make([]models.SessionSnapshot, 0, len(active))
	for _, sess := range active {
		out = append(out, sess.Snapshot())
	}
	response.Success(c, out)
}

// RecordingWebSocket streams a session's notifications until either side
// hangs up.
func (h *Handler) RecordingWebSocket(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}
	if _, err := h.ctrl.Lookup(sessionID); err != nil {
		h.apiError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.ctrl.Hub().Subscribe(sessionID)
	defer sub.Close()

	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for n := range sub.C {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(n); err != nil {
			h.logger.Debug("websocket write failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
	}
}
