package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var errSidecarNotReady = errors.New("sidecar health endpoint not ready")

// LauncherConfig describes how to bring up a sidecar service.
type LauncherConfig struct {
	BaseURL        string
	Command        string
	Args           []string
	StartupTimeout time.Duration
	PollInterval   time.Duration
}

// Launcher starts the sidecar process on first use. The process is launched
// at most once for the life of the launcher; later calls only wait for its
// health endpoint.
type Launcher struct {
	cfg    LauncherConfig
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	launched bool
	exited   chan struct{}
}

func NewLauncher(cfg LauncherConfig, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Launcher{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Second},
		logger: logger,
	}
}

// EnsureRunning returns once the sidecar answers its health check, starting
// the configured command if nothing is listening yet.
func (l *Launcher) EnsureRunning(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.healthy(ctx) {
		return nil
	}

	if !l.launched && l.cfg.Command != "" {
		cmd := exec.Command(l.cfg.Command, l.cfg.Args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		l.logger.Info("starting sidecar", zap.String("command", l.cfg.Command), zap.Strings("args", l.cfg.Args))
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("%w: %v", ErrSidecarUnavailable, err)
		}
		l.cmd = cmd
		l.launched = true
		l.exited = make(chan struct{})
		go func(exited chan struct{}) {
			if err := cmd.Wait(); err != nil {
				l.logger.Warn("sidecar exited", zap.Error(err))
			}
			close(exited)
		}(l.exited)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.PollInterval
	b.MaxInterval = time.Second
	b.MaxElapsedTime = l.cfg.StartupTimeout

	err := backoff.Retry(func() error {
		if l.healthy(ctx) {
			return nil
		}
		return errSidecarNotReady
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("%w: not healthy within %v: %v", ErrSidecarUnavailable, l.cfg.StartupTimeout, err)
	}
	l.logger.Info("sidecar ready", zap.String("url", l.cfg.BaseURL))
	return nil
}

func (l *Launcher) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close stops a sidecar this launcher started: interrupt first, kill after
// a grace period.
func (l *Launcher) Close() {
	l.mu.Lock()
	cmd, exited := l.cmd, l.exited
	l.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		l.logger.Warn("failed to interrupt sidecar", zap.Error(err))
	}
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		l.logger.Warn("sidecar did not exit, killing", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-exited
	}
}
