package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/diff"
	"github.com/sellerwatch/sellerwatch/internal/dispatch"
	"github.com/sellerwatch/sellerwatch/internal/fetch"
	"github.com/sellerwatch/sellerwatch/internal/model"
	"github.com/sellerwatch/sellerwatch/internal/store"
)

// CatalogSource provides the stored active records a diff runs
// against.
type CatalogSource interface {
	GetActive(ctx context.Context, sellerID string) ([]model.ProductRecord, error)
}

// Processor persists a change set and delivers its events.
type Processor interface {
	Process(ctx context.Context, cs model.ChangeSet) (dispatch.Result, error)
}

// Config holds poller configuration.
type Config struct {
	Interval       time.Duration // Poll interval (default: 10m)
	Concurrency    int           // Max concurrent sellers (default: 4)
	Timeout        time.Duration // Per-seller cycle timeout (default: 60s)
	SellerStagger  time.Duration // Delay between seller starts within a cycle (default: 2s)
	MinSellerDelay time.Duration // Minimum gap between observations of one seller (default: 1m)
	Sellers        []string      // Seller usernames to monitor
	Diff           diff.Options  // Diff tuning, e.g. price epsilon
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Minute,
		Concurrency:    4,
		Timeout:        60 * time.Second,
		SellerStagger:  2 * time.Second,
		MinSellerDelay: time.Minute,
	}
}

// CycleSummary describes one completed poll cycle.
type CycleSummary struct {
	StartedAt time.Time
	Duration  time.Duration
	Sellers   int // Sellers eligible this cycle
	Observed  int // Sellers fetched and diffed
	Skipped   int // In flight, quarantined or rate limited
	Errors    int // Fetch or processing failures
	Changes   int // Total changes applied across sellers
}

// Poller periodically observes sellers and dispatches detected
// changes.
type Poller struct {
	cfg       Config
	fetcher   fetch.Fetcher
	source    CatalogSource
	processor Processor
	logger    *slog.Logger

	mu          sync.Mutex
	inFlight    map[string]bool
	lastRun     map[string]time.Time
	quarantined map[string]QuarantineInfo
	lastSummary CycleSummary

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// QuarantineInfo records why a seller was taken out of rotation.
type QuarantineInfo struct {
	SellerID string
	Reason   string
	Since    time.Time
}

// New creates a Poller.
func New(cfg Config, fetcher fetch.Fetcher, source CatalogSource, processor Processor, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:         cfg,
		fetcher:     fetcher,
		source:      source,
		processor:   processor,
		logger:      logger,
		inFlight:    make(map[string]bool),
		lastRun:     make(map[string]time.Time),
		quarantined: make(map[string]QuarantineInfo),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("seller poller started",
		"interval", p.cfg.Interval,
		"sellers", len(p.cfg.Sellers),
		"concurrency", p.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("seller poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastSummary returns the most recent completed cycle summary.
func (p *Poller) LastSummary() CycleSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSummary
}

// Quarantined lists sellers currently out of rotation, sorted by id.
func (p *Poller) Quarantined() []QuarantineInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]QuarantineInfo, 0, len(p.quarantined))
	for _, q := range p.quarantined {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })
	return out
}

// ClearQuarantine returns a seller to rotation. Reports whether the
// seller was quarantined.
func (p *Poller) ClearQuarantine(sellerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.quarantined[sellerID]; !ok {
		return false
	}
	delete(p.quarantined, sellerID)
	p.logger.Info("seller quarantine cleared", "seller", sellerID)
	return true
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollAll()
		}
	}
}

// PollAll runs one cycle over all configured sellers.
func (p *Poller) PollAll() {
	start := time.Now()

	if len(p.cfg.Sellers) == 0 {
		p.logger.Debug("no sellers configured")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var observed, skipped, errs, changes atomic.Int64

	for i, seller := range p.cfg.Sellers {
		if i > 0 && p.cfg.SellerStagger > 0 {
			select {
			case <-p.ctx.Done():
				wg.Wait()
				return
			case <-time.After(p.cfg.SellerStagger):
			}
		}

		if !p.claim(seller) {
			skipped.Add(1)
			continue
		}

		wg.Add(1)
		go func(sellerID string) {
			defer wg.Done()
			defer p.release(sellerID)

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			applied, err := p.pollSeller(sellerID)
			if err != nil {
				p.logger.Warn("failed to poll seller",
					"seller", sellerID,
					"err", err,
				)
				errs.Add(1)
				return
			}

			observed.Add(1)
			changes.Add(int64(applied))
		}(seller)
	}

	wg.Wait()

	summary := CycleSummary{
		StartedAt: start,
		Duration:  time.Since(start),
		Sellers:   len(p.cfg.Sellers),
		Observed:  int(observed.Load()),
		Skipped:   int(skipped.Load()),
		Errors:    int(errs.Load()),
		Changes:   int(changes.Load()),
	}

	p.mu.Lock()
	p.lastSummary = summary
	p.mu.Unlock()

	p.logger.Info("poll cycle complete",
		"sellers", summary.Sellers,
		"observed", summary.Observed,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"changes", summary.Changes,
		"duration", summary.Duration,
	)
}

// claim marks a seller in flight for this cycle. It refuses sellers
// that are quarantined, already in flight, or observed more recently
// than MinSellerDelay.
func (p *Poller) claim(sellerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.quarantined[sellerID]; ok {
		return false
	}
	if p.inFlight[sellerID] {
		return false
	}
	if last, ok := p.lastRun[sellerID]; ok && time.Since(last) < p.cfg.MinSellerDelay {
		return false
	}
	p.inFlight[sellerID] = true
	return true
}

func (p *Poller) release(sellerID string) {
	p.mu.Lock()
	delete(p.inFlight, sellerID)
	p.mu.Unlock()
}

// pollSeller runs one observation for one seller. Returns the number
// of changes applied.
func (p *Poller) pollSeller(sellerID string) (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	observedAt := time.Now().UTC()

	// A failed fetch means no observation. It must never be diffed as
	// an empty catalog.
	catalog, err := p.fetcher.Fetch(ctx, sellerID)
	if err != nil {
		return 0, err
	}

	previous, err := p.source.GetActive(ctx, sellerID)
	if err != nil {
		return 0, err
	}

	cs := diff.Diff(sellerID, previous, catalog, observedAt, p.cfg.Diff)

	res, err := p.processor.Process(ctx, cs)
	if err != nil {
		if store.IsInvariantViolation(err) {
			p.quarantine(sellerID, err.Error())
		}
		return 0, err
	}

	p.mu.Lock()
	p.lastRun[sellerID] = time.Now()
	p.mu.Unlock()

	if !cs.Empty() {
		p.logger.Info("seller changes applied",
			"seller", sellerID,
			"changes", len(cs.Changes),
			"delivered", res.Delivered,
			"failed", res.Failed,
		)
	}
	return res.Applied.Applied(), nil
}

func (p *Poller) quarantine(sellerID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.quarantined[sellerID] = QuarantineInfo{
		SellerID: sellerID,
		Reason:   reason,
		Since:    time.Now().UTC(),
	}
	p.logger.Error("seller quarantined",
		"seller", sellerID,
		"reason", reason,
	)
}
