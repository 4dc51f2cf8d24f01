package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the sweeper scans for lapsed sessions.
const DefaultSweepInterval = 1 * time.Minute

// Sweeper periodically removes expired sessions from the store. It runs
// independently of the request path, holds no lock the request path needs,
// and its failures are logged, never fatal. The lazy-expiry check in
// Store.Get remains the correctness backstop between sweeps.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(removed int, err error) // optional metrics hook
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once // Prevent double-close panic on Stop()
}

// SweeperOption is a functional option for configuring the Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepObserver installs a callback invoked after every sweep with the
// removal count and outcome. Used to drive sweep metrics.
func WithSweepObserver(observer func(removed int, err error)) SweeperOption {
	return func(s *Sweeper) {
		s.onSweep = observer
	}
}

// NewSweeper creates a sweeper over the given store. A zero interval
// applies DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep goroutine. Call Stop to shut it down
// gracefully; context cancellation also stops it.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep runs one scan. Partial failures inside SweepExpired are already
// isolated by the store; a total failure is logged and the next tick tries
// again.
func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.SweepExpired(ctx)
	if s.onSweep != nil {
		s.onSweep(removed, err)
	}
	if err != nil {
		s.logger.Warn("session sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Debug("swept expired sessions", "count", removed)
	}
}

// Stop stops the sweep goroutine and waits for it to exit. Safe to call
// multiple times.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}
