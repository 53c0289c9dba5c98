// internal/overlay/monitor.go
package overlay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor runs the handler's sweep in the background while the main flow sits
// in a long navigation or wait. It is tied to the operation that started it
// and must be joined before the scraper disposes, so a polling goroutine can
// never outlive its browser.
type Monitor struct {
	handler  *Handler
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(handler *Handler, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		handler:  handler,
		interval: interval,
		logger:   logger.Named("overlay.monitor"),
	}
}

// Start launches the background sweep loop bound to parent. Starting an
// already-running monitor is a no-op.
func (m *Monitor) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx, m.done)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.handler.Sweep(ctx); n > 0 {
				m.logger.Debug("background sweep dismissed overlays", zap.Int("count", n))
			}
		}
	}
}

// Stop cancels the loop and blocks until the goroutine has exited. Safe to
// call multiple times and on a monitor that never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
