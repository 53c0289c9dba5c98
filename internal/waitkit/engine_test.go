// internal/waitkit/engine_test.go
package waitkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/internal/config"
)

func testWaitConfig() config.WaitConfig {
	return config.WaitConfig{
		DefaultPollInterval: 5 * time.Millisecond,
		FastPollInterval:    time.Millisecond,
		MinTimeout:          50 * time.Millisecond,
		MaxTimeout:          200 * time.Millisecond,
		FastPathWindow:      30 * time.Second,
	}
}

func TestWaitForElementResolves(t *testing.T) {
	engine := NewEngine(testWaitConfig(), zap.NewNop())

	calls := 0
	found, state, err := engine.WaitForElement(context.Background(), "login.button", func(ctx context.Context) (bool, string, error) {
		calls++
		if calls < 3 {
			return false, "still rendering", nil
		}
		return true, "visible", nil
	})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "visible", state)
	assert.Equal(t, 3, calls)
}

func TestWaitForElementTimeoutIsNotAnError(t *testing.T) {
	engine := NewEngine(testWaitConfig(), zap.NewNop())

	found, reason, err := engine.WaitForElement(context.Background(), "ghost", func(ctx context.Context) (bool, string, error) {
		return false, "absent", nil
	})

	require.NoError(t, err)
	assert.False(t, found)
	assert.Contains(t, reason, "not found within")
	assert.Contains(t, reason, "absent")
}

func TestWaitForElementProbeErrorAborts(t *testing.T) {
	engine := NewEngine(testWaitConfig(), zap.NewNop())

	boom := errors.New("target crashed")
	found, _, err := engine.WaitForElement(context.Background(), "broken", func(ctx context.Context) (bool, string, error) {
		return false, "", boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, found)
}

func TestWaitForElementCallerCancellation(t *testing.T) {
	engine := NewEngine(testWaitConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := engine.WaitForElement(ctx, "whatever", func(ctx context.Context) (bool, string, error) {
		return false, "absent", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForConditionSwallowsProbeErrors(t *testing.T) {
	engine := NewEngine(testWaitConfig(), zap.NewNop())

	calls := 0
	met := engine.WaitForCondition(context.Background(), "settling", func(ctx context.Context) (bool, string, error) {
		calls++
		if calls < 3 {
			return false, "", errors.New("DOM mid-mutation")
		}
		return true, "settled", nil
	})

	assert.True(t, met)
	assert.Equal(t, 3, calls)
}

func TestWaitForConditionReportsFailure(t *testing.T) {
	engine := NewEngine(testWaitConfig(), zap.NewNop())

	met := engine.WaitForCondition(context.Background(), "never", func(ctx context.Context) (bool, string, error) {
		return false, "nope", nil
	})
	assert.False(t, met)
}

func TestTimeoutsGrowTheBudget(t *testing.T) {
	cfg := testWaitConfig()
	engine := NewEngine(cfg, zap.NewNop())

	// A quick first resolution pulls the budget well below the ceiling.
	engine.timings.record("flaky", 40*time.Millisecond)
	require.Equal(t, 60*time.Millisecond, engine.Budget("flaky"))

	never := func(ctx context.Context) (bool, string, error) {
		return false, "absent", nil
	}

	prev := engine.Budget("flaky")
	for i := 0; i < 3; i++ {
		found, _, err := engine.WaitForElement(context.Background(), "flaky", never)
		require.NoError(t, err)
		require.False(t, found)

		next := engine.Budget("flaky")
		assert.Greater(t, next, prev, "each timeout must widen the next budget")
		prev = next
	}
	assert.LessOrEqual(t, prev, cfg.MaxTimeout)
}

func TestTimeoutSeedsUnknownProfileWithoutFastPath(t *testing.T) {
	ts := newTimingStore()

	ts.recordTimeout("cold", 500*time.Millisecond)
	p, ok := ts.snapshot("cold")
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, p.avg)
	assert.Equal(t, 1, p.samples)
	assert.True(t, p.lastSuccess.IsZero())
	assert.False(t, ts.fastPathEligible("cold", 30*time.Second, time.Now()))
}

func TestAdaptiveTimeoutClamping(t *testing.T) {
	cfg := testWaitConfig()
	cfg.MinTimeout = 2 * time.Second
	cfg.MaxTimeout = 40 * time.Second
	ts := newTimingStore()

	t.Run("unknown target gets the ceiling", func(t *testing.T) {
		assert.Equal(t, cfg.MaxTimeout, ts.adaptiveTimeout("new", cfg.MinTimeout, cfg.MaxTimeout))
	})

	t.Run("fast target clamps to the floor", func(t *testing.T) {
		ts.record("fast", 200*time.Millisecond)
		// 1.5 x 200ms is well below the 2s floor.
		assert.Equal(t, cfg.MinTimeout, ts.adaptiveTimeout("fast", cfg.MinTimeout, cfg.MaxTimeout))
	})

	t.Run("average target scales by 1.5", func(t *testing.T) {
		ts.record("steady", 4*time.Second)
		assert.Equal(t, 6*time.Second, ts.adaptiveTimeout("steady", cfg.MinTimeout, cfg.MaxTimeout))
	})

	t.Run("slow target clamps to the ceiling", func(t *testing.T) {
		ts.record("slow", 60*time.Second)
		assert.Equal(t, cfg.MaxTimeout, ts.adaptiveTimeout("slow", cfg.MinTimeout, cfg.MaxTimeout))
	})
}

func TestTimingStoreSmoothing(t *testing.T) {
	ts := newTimingStore()

	ts.record("op", 1000*time.Millisecond)
	p, ok := ts.snapshot("op")
	require.True(t, ok)
	assert.Equal(t, 1000*time.Millisecond, p.avg)
	assert.Equal(t, 1, p.samples)

	// 0.7*1000ms + 0.3*2000ms = 1300ms
	ts.record("op", 2000*time.Millisecond)
	p, _ = ts.snapshot("op")
	assert.InDelta(t, float64(1300*time.Millisecond), float64(p.avg), float64(time.Millisecond))
	assert.Equal(t, 1000*time.Millisecond, p.min)
	assert.Equal(t, 2000*time.Millisecond, p.max)
	assert.Equal(t, 2, p.samples)
}

func TestFastPathEligibility(t *testing.T) {
	ts := newTimingStore()
	window := 30 * time.Second
	now := time.Now()

	t.Run("unknown target is not eligible", func(t *testing.T) {
		assert.False(t, ts.fastPathEligible("unknown", window, now))
	})

	t.Run("recent sub-second resolution is eligible", func(t *testing.T) {
		ts.record("quick", 300*time.Millisecond)
		assert.True(t, ts.fastPathEligible("quick", window, time.Now()))
	})

	t.Run("slow resolution is not eligible", func(t *testing.T) {
		ts.record("sluggish", 3*time.Second)
		assert.False(t, ts.fastPathEligible("sluggish", window, time.Now()))
	})

	t.Run("stale success falls off the fast path", func(t *testing.T) {
		ts.record("stale", 100*time.Millisecond)
		future := time.Now().Add(window + time.Minute)
		assert.False(t, ts.fastPathEligible("stale", window, future))
	})
}

func TestEnginePollIntervalSelection(t *testing.T) {
	cfg := testWaitConfig()
	engine := NewEngine(cfg, zap.NewNop())

	assert.Equal(t, cfg.DefaultPollInterval, engine.pollInterval("cold"))

	engine.timings.record("warm", 100*time.Millisecond)
	assert.Equal(t, cfg.FastPollInterval, engine.pollInterval("warm"))
}

func TestWaitForDelayHonorsCancellation(t *testing.T) {
	engine := NewEngine(testWaitConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, engine.WaitForDelay(ctx, time.Minute), context.Canceled)

	require.NoError(t, engine.WaitForDelay(context.Background(), time.Millisecond))
}
