// Package injection installs the recorder script into a page, verifies it,
// and retries through progressively simpler strategies.
package injection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"webtestflow/recorder/internal/metrics"
	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/pkg/driver"
)

var errNotVerified = errors.New("no strategy verified")

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	SettleDelay time.Duration
}

// Result describes one InjectWithRetry run.
type Result struct {
	Success      bool         `json:"success"`
	Strategy     string       `json:"strategy,omitempty"`
	Attempts     int          `json:"attempts"`
	Verification Verification `json:"verification"`
	Error        string       `json:"error,omitempty"`
}

type Orchestrator struct {
	assets     *Assets
	strategies []Strategy
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewOrchestrator(assets *Assets, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Orchestrator{
		assets:     assets,
		strategies: DefaultStrategies(assets),
		cfg:        cfg,
		logger:     logger.Named("injection"),
		metrics:    m,
	}
}

func isAbort(ctx context.Context, err error) bool {
	return driver.IsClosedError(err) || ctx.Err() != nil
}

// InjectWithRetry runs every strategy in order until one verifies, retrying
// the whole sequence after a fixed delay. It gives up early when ctx ends or
// the browser is gone. maxAttempts <= 0 uses the configured default.
func (o *Orchestrator) InjectWithRetry(ctx context.Context, d driver.Driver, params Params, maxAttempts int) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.MaxAttempts
	}
	log := o.logger.With(zap.String("session_id", params.SessionID))

	var result Result
	attempts := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.RetryDelay), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempts++
		// The page may have been replaced since the previous attempt.
		if err := o.relaxCSP(ctx, d, log); err != nil {
			return backoff.Permanent(err)
		}
		res, err := o.attempt(ctx, d, params, log)
		if err != nil {
			return backoff.Permanent(err)
		}
		result = res
		if res.Success {
			return nil
		}
		log.Info("injection not verified, retrying",
			zap.Int("attempt", attempts), zap.Int("max_attempts", maxAttempts))
		return errNotVerified
	}, b)
	result.Attempts = attempts

	switch {
	case err == nil:
		o.metrics.InjectionFinished(result.Strategy, true)
		log.Info("recorder injected", zap.String("strategy", result.Strategy), zap.Int("attempts", attempts))
		return result, nil
	case isAbort(ctx, err):
		result.Error = err.Error()
		return result, err
	default:
		o.metrics.InjectionFinished("", false)
		err = fmt.Errorf("%w after %d attempts", models.ErrInjectionExhausted, attempts)
		result.Error = err.Error()
		log.Warn("injection exhausted, session continues degraded", zap.Int("attempts", attempts))
		return result, err
	}
}

// relaxCSP asks the driver to bypass the page's CSP when it can. Only an
// abort is returned; other failures are logged.
func (o *Orchestrator) relaxCSP(ctx context.Context, d driver.Driver, log *zap.Logger) error {
	relaxer, ok := d.(driver.CSPRelaxer)
	if !ok {
		return nil
	}
	if err := relaxer.RelaxCSP(ctx); err != nil {
		if isAbort(ctx, err) {
			return err
		}
		log.Debug("csp relaxation unavailable", zap.Error(err))
	}
	return nil
}

// attempt runs the strategy sequence once. A non-nil error aborts retrying.
func (o *Orchestrator) attempt(ctx context.Context, d driver.Driver, params Params, log *zap.Logger) (Result, error) {
	var last Result
	for _, s := range o.strategies {
		if !s.Supported(d) {
			continue
		}
		if err := s.Inject(ctx, d, params); err != nil {
			if isAbort(ctx, err) {
				return Result{}, err
			}
			log.Debug("strategy failed", zap.String("strategy", s.Name()), zap.Error(err))
			last = Result{Strategy: s.Name()}
			continue
		}

		if err := sleep(ctx, o.cfg.SettleDelay); err != nil {
			return Result{}, err
		}
		v, err := o.Probe(ctx, d)
		if err != nil && isAbort(ctx, err) {
			return Result{}, err
		}
		if err == nil && v.OK() {
			return Result{Success: true, Strategy: s.Name(), Verification: v}, nil
		}
		log.Debug("strategy not verified",
			zap.String("strategy", s.Name()),
			zap.Bool("flag_active", v.FlagActive),
			zap.Bool("marker_present", v.MarkerPresent))
		last = Result{Strategy: s.Name(), Verification: v}
	}
	return last, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
