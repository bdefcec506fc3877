package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) hookError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("hook failed", zap.String("session_id", c.Param("sessionKey")), zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxHookBody))
}

// HookEvent ingests one event from the page.
func (h *Handler) HookEvent(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	id, err := h.gateway.ProcessEvent(c.Request.Context(), c.Param("sessionKey"), body)
	if err != nil {
		h.hookError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "eventId": id})
}

func (h *Handler) HookStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	snap, err := h.gateway.UpdateStatus(c.Request.Context(), c.Param("sessionKey"), req.Status)
	if err != nil {
		h.hookError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": snap.Status})
}

// HookReinject answers 202: the check runs on the session's loops.
func (h *Handler) HookReinject(c *gin.Context) {
	if err := h.gateway.RequestReinjection(c.Request.Context(), c.Param("sessionKey")); err != nil {
		h.hookError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// HookBrowserInfo always answers 200; the data is a best-effort extra.
func (h *Handler) HookBrowserInfo(c *gin.Context) {
	if body, err := readBody(c); err == nil {
		h.gateway.ProcessBrowserInfo(c.Request.Context(), c.Param("sessionKey"), body)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HookInfo is readable by the recorded page, so the session environment
// stays out of it.
func (h *Handler) HookInfo(c *gin.Context) {
	snap, err := h.gateway.Info(c.Param("sessionKey"))
	if err != nil {
		h.hookError(c, err)
		return
	}
	cfg := snap.Config
	cfg.Environment = nil
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"sessionId":  snap.ID,
		"status":     snap.Status,
		"eventCount": snap.EventCount,
		"startTime":  snap.StartTime,
		"config":     cfg,
	})
}
