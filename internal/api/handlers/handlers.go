// Package handlers serves the page hooks and the operator API.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"webtestflow/recorder/internal/ingestion"
	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/internal/recorder"
	"webtestflow/recorder/pkg/driver"
)

// maxHookBody bounds a single page callback.
const maxHookBody = 1 << 20

type Handler struct {
	ctrl    *recorder.Controller
	gateway *ingestion.Gateway
	logger  *zap.Logger
	started time.Time
}

func New(ctrl *recorder.Controller, gateway *ingestion.Gateway, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ctrl:    ctrl,
		gateway: gateway,
		logger:  logger.Named("api"),
		started: time.Now(),
	}
}

var statusTable = []struct {
	err    error
	status int
}{
	{models.ErrSessionNotFound, http.StatusNotFound},
	{models.ErrInvalidEventPayload, http.StatusBadRequest},
	{models.ErrUnsupportedEventType, http.StatusBadRequest},
	{models.ErrUnknownStatus, http.StatusBadRequest},
	{models.ErrInvalidStatusTransition, http.StatusConflict},
	{models.ErrSessionExists, http.StatusConflict},
	{models.ErrRateLimited, http.StatusTooManyRequests},
	{models.ErrSessionLimit, http.StatusTooManyRequests},
	{driver.ErrUnsupportedBrowser, http.StatusBadRequest},
	{driver.ErrNotStarted, http.StatusConflict},
	{driver.ErrBrowserClosed, http.StatusGone},
	{driver.ErrBrowserUnresponsive, http.StatusGatewayTimeout},
	{driver.ErrSidecarUnavailable, http.StatusServiceUnavailable},
	{driver.ErrDriverStart, http.StatusBadGateway},
	{driver.ErrNavigation, http.StatusBadGateway},
}

// statusFor maps an error from the recorder packages to an HTTP status.
func statusFor(err error) int {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
