package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"webtestflow/recorder/pkg/chrome"
	"webtestflow/recorder/pkg/response"
)

// GetDevices lists the emulation presets accepted as config.device.
func (h *Handler) GetDevices(c *gin.Context) {
	response.Success(c, chrome.Devices())
}

func (h *Handler) HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":          "ok",
		"active_sessions": h.ctrl.Registry().Len(),
		"archived":        h.ctrl.Archive().Len(),
		"uptime":          time.Since(h.started).Round(time.Second).String(),
	})
}
