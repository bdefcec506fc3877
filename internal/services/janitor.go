// Package services runs the background housekeeping of the recorder.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger drops archived sessions past their retention.
type Purger interface {
	Purge() int
}

// Expirer stops sessions that have been recording longer than maxAge.
type Expirer interface {
	StopExpired(ctx context.Context, maxAge time.Duration) int
}

// Pruner drops per-session state kept for sessions that are gone.
type Pruner interface {
	Prune() int
}

type JanitorConfig struct {
	Schedule           string
	SessionMaxDuration time.Duration
}

// SweepResult counts what one sweep cleaned up.
type SweepResult struct {
	Expired  int
	Purged   int
	Limiters int
}

// JanitorService sweeps the controller, archive and gateway on a cron
// schedule.
type JanitorService struct {
	cfg     JanitorConfig
	cron    *cron.Cron
	archive Purger
	expirer Expirer
	pruner  Pruner
	logger  *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewJanitorService(cfg JanitorConfig, archive Purger, expirer Expirer, pruner Pruner, logger *zap.Logger) *JanitorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("janitor")
	cl := cronLogger{logger.Sugar()}
	return &JanitorService{
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		archive: archive,
		expirer: expirer,
		pruner:  pruner,
		logger:  logger,
	}
}

// Start registers the sweep and starts the scheduler. An empty schedule
// disables the janitor.
func (s *JanitorService) Start() error {
	if s.cfg.Schedule == "" {
		s.logger.Info("janitor disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.Sweep(s.ctx)
	})
	if err != nil {
		s.cancel()
		s.cancel = nil
		return fmt.Errorf("invalid janitor schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("janitor started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Sweep runs one cleanup pass.
func (s *JanitorService) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	if s.expirer != nil && s.cfg.SessionMaxDuration > 0 {
		res.Expired = s.expirer.StopExpired(ctx, s.cfg.SessionMaxDuration)
	}
	if s.archive != nil {
		res.Purged = s.archive.Purge()
	}
	if s.pruner != nil {
		res.Limiters = s.pruner.Prune()
	}
	if res != (SweepResult{}) {
		s.logger.Info("sweep finished",
			zap.Int("expired", res.Expired),
			zap.Int("purged", res.Purged),
			zap.Int("limiters", res.Limiters))
	}
	return res
}

// Stop cancels a running sweep and waits for it to return.
func (s *JanitorService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("janitor stopped")
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
