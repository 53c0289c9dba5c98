// internal/waitkit/engine.go
package waitkit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/internal/config"
)

// Probe checks once whether a wait target is satisfied. It returns whether
// the target is met, a short human-readable state for diagnostics, and an
// error only when probing itself broke (a dead browser, not an absent
// element).
type Probe func(ctx context.Context) (ok bool, state string, err error)

// Engine runs polling waits with self-tuning timeouts. One engine belongs to
// one scraper; sharing one across portals would blend their timing profiles.
type Engine struct {
	cfg     config.WaitConfig
	logger  *zap.Logger
	timings *timingStore

	// now is swappable for tests.
	now func() time.Time
}

func NewEngine(cfg config.WaitConfig, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		logger:  logger.Named("wait"),
		timings: newTimingStore(),
		now:     time.Now,
	}
}

// WaitForElement polls probe under the adaptive budget for key. A timeout is
// an expected outcome, reported as found=false with a diagnostic reason, not
// an error; only a broken probe or a canceled caller context returns err.
// Every attempt feeds the target's timing profile: successes record their
// elapsed time, timeouts fold the exhausted budget in so a consistently slow
// target grows its budget instead of replaying the same losing window.
func (e *Engine) WaitForElement(ctx context.Context, key string, probe Probe) (found bool, reason string, err error) {
	budget := e.timings.adaptiveTimeout(key, e.cfg.MinTimeout, e.cfg.MaxTimeout)
	interval := e.pollInterval(key)

	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := e.now()
	lastState := "never probed"
	for {
		ok, state, probeErr := probe(waitCtx)
		if probeErr != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				// The budget expired mid-probe; treat it as a timeout.
				return false, e.timedOut(key, budget, lastState), nil
			}
			return false, "", fmt.Errorf("probing %s: %w", key, probeErr)
		}
		if ok {
			elapsed := e.now().Sub(start)
			e.timings.record(key, elapsed)
			e.logger.Debug("wait satisfied",
				zap.String("target", key),
				zap.Duration("elapsed", elapsed),
				zap.Duration("budget", budget))
			return true, state, nil
		}
		if state != "" {
			lastState = state
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return false, "", ctx.Err()
			}
			return false, e.timedOut(key, budget, lastState), nil
		case <-time.After(interval):
		}
	}
}

// timedOut records the exhausted budget against the target and builds the
// diagnostic reason.
func (e *Engine) timedOut(key string, budget time.Duration, lastState string) string {
	e.timings.recordTimeout(key, budget)
	e.logger.Debug("wait timed out",
		zap.String("target", key),
		zap.Duration("budget", budget),
		zap.String("last_state", lastState))
	return fmt.Sprintf("not found within %s (last state: %s)", budget, lastState)
}

// WaitForCondition is the best-effort variant: probe errors count as "not yet
// satisfied" rather than aborting, since a predicate evaluated mid-mutation
// on a live DOM is allowed to blow up transiently. Returns whether the
// condition was met before the budget ran out.
func (e *Engine) WaitForCondition(ctx context.Context, key string, probe Probe) bool {
	found, _, err := e.WaitForElement(ctx, key, func(ctx context.Context) (bool, string, error) {
		ok, state, probeErr := probe(ctx)
		if probeErr != nil {
			return false, fmt.Sprintf("probe error: %v", probeErr), nil
		}
		return ok, state, nil
	})
	return err == nil && found
}

// WaitForDelay is a plain context-aware sleep for the few places where a
// portal imposes a fixed animation delay that no DOM state exposes.
func (e *Engine) WaitForDelay(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// pollInterval picks the tight interval when the target has been resolving
// fast recently, otherwise the configured default.
func (e *Engine) pollInterval(key string) time.Duration {
	if e.timings.fastPathEligible(key, e.cfg.FastPathWindow, e.now()) {
		return e.cfg.FastPollInterval
	}
	return e.cfg.DefaultPollInterval
}

// Budget exposes the current adaptive budget for a target, for callers that
// bound a secondary operation by the same window.
func (e *Engine) Budget(key string) time.Duration {
	return e.timings.adaptiveTimeout(key, e.cfg.MinTimeout, e.cfg.MaxTimeout)
}
