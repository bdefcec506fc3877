// Package sidecar serves browser drivers over HTTP so browser kinds that
// cannot run in the recorder process are reachable through driver.SidecarDriver.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webtestflow/recorder/pkg/driver"
)

var errUnknownCommand = errors.New("unknown command")

type Server struct {
	factory driver.Factory
	logger  *zap.Logger

	mu      sync.Mutex
	drivers map[string]driver.Driver
}

func NewServer(factory driver.Factory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		factory: factory,
		logger:  logger,
		drivers: make(map[string]driver.Driver),
	}
}

// Handler returns the gin engine serving the sidecar protocol.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		s.mu.Lock()
		n := len(s.drivers)
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"ok": true, "sessions": n})
	})
	r.POST("/sessions/:id", s.startSession)
	r.DELETE("/sessions/:id", s.stopSession)
	r.POST("/sessions/:id/commands/:name", s.runCommand)
	return r
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, driver.CommandResponse{OK: false, Error: err.Error(), Kind: driver.KindName(err)})
}

func (s *Server) startSession(c *gin.Context) {
	id := c.Param("id")
	var req driver.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	_, exists := s.drivers[id]
	s.mu.Unlock()
	if exists {
		c.JSON(http.StatusOK, driver.CommandResponse{OK: true})
		return
	}

	d, err := s.factory.New(id, req.Options)
	if err != nil {
		fail(c, http.StatusOK, err)
		return
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if err := d.Start(context.Background(), timeout); err != nil {
		s.logger.Warn("sidecar session failed to start", zap.String("session_id", id), zap.Error(err))
		fail(c, http.StatusOK, err)
		return
	}

	s.mu.Lock()
	s.drivers[id] = d
	s.mu.Unlock()
	s.logger.Info("sidecar session started", zap.String("session_id", id), zap.String("browser", req.Options.Kind))
	c.JSON(http.StatusOK, driver.CommandResponse{OK: true})
}

func (s *Server) stopSession(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	d, ok := s.drivers[id]
	delete(s.drivers, id)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusOK, driver.CommandResponse{OK: true})
		return
	}
	if err := d.Stop(c.Request.Context()); err != nil {
		fail(c, http.StatusOK, err)
		return
	}
	s.logger.Info("sidecar session stopped", zap.String("session_id", id))
	c.JSON(http.StatusOK, driver.CommandResponse{OK: true})
}

func (s *Server) runCommand(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	d, ok := s.drivers[id]
	s.mu.Unlock()
	if !ok {
		fail(c, http.StatusNotFound, &driver.Error{Op: c.Param("name"), Kind: driver.ErrNotStarted})
		return
	}

	var req driver.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	value, err := dispatch(c.Request.Context(), d, c.Param("name"), req)
	if errors.Is(err, errUnknownCommand) {
		fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		fail(c, http.StatusOK, err)
		return
	}
	c.JSON(http.StatusOK, driver.CommandResponse{OK: true, Value: value})
}

func dispatch(ctx context.Context, d driver.Driver, name string, req driver.CommandRequest) (interface{}, error) {
	switch name {
	case driver.CmdNavigate:
		return nil, d.Navigate(ctx, req.URL)
	case driver.CmdSetViewport:
		return nil, d.SetViewport(ctx, req.Width, req.Height)
	case driver.CmdExecuteScript:
		return d.ExecuteScript(ctx, req.Script, req.Args...)
	case driver.CmdExecuteAsyncScript:
		return d.ExecuteAsyncScript(ctx, req.Script, req.Args...)
	case driver.CmdInjectScript:
		return d.InjectScript(ctx, req.Script)
	case driver.CmdRelaxCSP:
		if r, ok := d.(driver.CSPRelaxer); ok {
			return nil, r.RelaxCSP(ctx)
		}
		return nil, nil
	case driver.CmdCaptureScreenshot:
		return d.CaptureScreenshot(ctx)
	case driver.CmdCaptureElementScreenshot:
		return d.CaptureElementScreenshot(ctx, req.Selector)
	case driver.CmdCurrentURL:
		return d.CurrentURL(ctx)
	case driver.CmdTitle:
		return d.Title(ctx)
	case driver.CmdSetNetworkCapturing:
		return nil, d.SetNetworkCapturing(ctx, req.Enabled)
	case driver.CmdSetConsoleCapturing:
		return nil, d.SetConsoleCapturing(ctx, req.Enabled)
	case driver.CmdWaitForCondition:
		return d.WaitForCondition(ctx, req.Predicate, time.Duration(req.TimeoutMs)*time.Millisecond)
	case driver.CmdIsResponsive:
		return d.IsResponsive(ctx), nil
	}
	return nil, fmt.Errorf("%w: %s", errUnknownCommand, name)
}

// Close stops every hosted browser.
func (s *Server) Close(ctx context.Context) {
	s.mu.Lock()
	drivers := s.drivers
	s.drivers = make(map[string]driver.Driver)
	s.mu.Unlock()

	for id, d := range drivers {
		if err := d.Stop(ctx); err != nil {
			s.logger.Warn("failed to stop sidecar session", zap.String("session_id", id), zap.Error(err))
		}
	}
}
