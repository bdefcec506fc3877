package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"webtestflow/recorder/pkg/driver"
)

// tick waits for the next interval; false means the loop must exit.
func tick(ctx context.Context, t *time.Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Supervisor) healthLoop(ctx context.Context, sess Session, l *loops) error {
	t := time.NewTicker(s.cfg.HealthInterval)
	defer t.Stop()
	for run := 0; s.cfg.HealthMaxRuns <= 0 || run < s.cfg.HealthMaxRuns; run++ {
		if !tick(ctx, t) {
			return nil
		}
		if s.checkHealth(ctx, sess, l) {
			return nil
		}
	}
	s.logger.Debug("health loop reached its run cap", zap.String("session_id", sess.ID()))
	return nil
}

// checkHealth reports whether the health loop should stop.
func (s *Supervisor) checkHealth(ctx context.Context, sess Session, l *loops) bool {
	d := sess.Driver()
	if !d.IsResponsive(ctx) {
		if ctx.Err() != nil {
			return true
		}
		s.closed(sess, driver.ErrBrowserUnresponsive)
		return true
	}

	active, err := s.injector.IsActive(ctx, d)
	if err != nil {
		if driver.IsClosedError(err) {
			s.closed(sess, err)
			return true
		}
		s.logger.Debug("activation probe failed", zap.String("session_id", sess.ID()), zap.Error(err))
		return ctx.Err() != nil
	}
	if !active {
		return s.reinject(ctx, sess, l, "health")
	}

	if err := s.injector.EnsureMarker(ctx, d); err != nil {
		if driver.IsClosedError(err) {
			s.closed(sess, err)
			return true
		}
		s.logger.Debug("marker repair failed", zap.String("session_id", sess.ID()), zap.Error(err))
	}
	return ctx.Err() != nil
}

func (s *Supervisor) domainLoop(ctx context.Context, sess Session, l *loops) error {
	t := time.NewTicker(s.cfg.DomainInterval)
	defer t.Stop()
	for run := 1; s.cfg.DomainMaxRuns <= 0 || run <= s.cfg.DomainMaxRuns; {
		select {
		case <-ctx.Done():
			return nil
		case <-l.nudge:
			if s.ensureActive(ctx, sess, l, "page") {
				return nil
			}
			continue
		case <-t.C:
		}
		if s.checkDomain(ctx, sess, l, run%s.cfg.DomainFullCheckEvery == 0) {
			return nil
		}
		run++
	}
	s.logger.Debug("domain loop reached its run cap", zap.String("session_id", sess.ID()))
	return nil
}

// checkDomain reinjects once per domain change; a full check also verifies
// the activation flag. It reports whether the domain loop should stop.
func (s *Supervisor) checkDomain(ctx context.Context, sess Session, l *loops, full bool) bool {
	d := sess.Driver()
	current, err := d.CurrentURL(ctx)
	if err != nil {
		if driver.IsClosedError(err) {
			s.closed(sess, err)
			return true
		}
		s.logger.Debug("current url probe failed", zap.String("session_id", sess.ID()), zap.Error(err))
		return ctx.Err() != nil
	}

	if domain := ExtractDomain(current); domain != "" {
		if prev := sess.SwapDomain(domain); prev != domain {
			s.logger.Info("domain changed",
				zap.String("session_id", sess.ID()),
				zap.String("from", prev),
				zap.String("to", domain))
			return s.reinject(ctx, sess, l, "domain")
		}
	}

	if !full {
		return false
	}
	return s.ensureActive(ctx, sess, l, "full_check")
}

// ensureActive reinjects when the activation flag is gone. It reports
// whether the calling loop should stop.
func (s *Supervisor) ensureActive(ctx context.Context, sess Session, l *loops, reason string) bool {
	active, err := s.injector.IsActive(ctx, sess.Driver())
	if err != nil {
		if driver.IsClosedError(err) {
			s.closed(sess, err)
			return true
		}
		return ctx.Err() != nil
	}
	if !active {
		return s.reinject(ctx, sess, l, reason)
	}
	return false
}
