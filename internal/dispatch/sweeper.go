package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig holds sweeper configuration.
type SweeperConfig struct {
	Interval time.Duration // Sweep interval (default: 5m)
	MinAge   time.Duration // Minimum event age before retry (default: 2m)
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 5 * time.Minute,
		MinAge:   2 * time.Minute,
	}
}

// Sweeper periodically redelivers events that remained undelivered
// after their cycle, e.g. because the sink was down or the process
// crashed between persist and delivery.
type Sweeper struct {
	cfg        SweeperConfig
	dispatcher *Dispatcher
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg SweeperConfig, dispatcher *Dispatcher, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("delivery sweeper started",
		"interval", s.cfg.Interval,
		"min_age", s.cfg.MinAge,
	)
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("delivery sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep retries all events older than MinAge across all sellers. The
// age floor keeps the sweeper from racing deliveries still in flight
// in the current cycle.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.MinAge)

	delivered, suppressed, failed, err := s.dispatcher.DeliverPending(ctx, "", cutoff)
	if err != nil {
		s.logger.Warn("sweep failed", "err", err)
		return
	}
	if delivered+suppressed+failed > 0 {
		s.logger.Info("sweep complete",
			"delivered", delivered,
			"suppressed", suppressed,
			"failed", failed,
		)
	}
}
