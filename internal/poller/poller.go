package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"laundry/internal/backend"

	"go.uber.org/zap"
)

const DefaultInterval = 10 * time.Second

type StatsFetcher interface {
	OrderStats(ctx context.Context) (*backend.OrderStats, error)
}

// Snapshot is the last poll result. Stats holds the last good fetch even when
// the latest one failed.
type Snapshot struct {
	Stats     *backend.OrderStats `json:"stats"`
	FetchedAt time.Time           `json:"fetched_at"`
	LastError string              `json:"last_error,omitempty"`
}

// Poller fetches order stats on a fixed interval. A tick that arrives while
// the previous fetch is still running is skipped, so requests never overlap.
type Poller struct {
	fetcher  StatsFetcher
	interval time.Duration
	logger   *zap.SugaredLogger

	mu       sync.RWMutex
	snap     Snapshot
	ok       bool
	inFlight atomic.Bool
	fetches  atomic.Int64
	skipped  atomic.Int64
}

func New(f StatsFetcher, interval time.Duration, logger *zap.SugaredLogger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{fetcher: f, interval: interval, logger: logger}
}

// Run polls until ctx is done and returns once no fetch is running.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	p.tick(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, &wg)
		}
	}
}

func (p *Poller) tick(ctx context.Context, wg *sync.WaitGroup) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.inFlight.Store(false)
		p.fetch(ctx)
	}()
}

func (p *Poller) fetch(ctx context.Context) {
	p.fetches.Add(1)
	stats, err := p.fetcher.OrderStats(ctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.logger.Warnw("order stats poll failed", "error", err)
		p.snap.LastError = err.Error()
		return
	}
	p.snap = Snapshot{Stats: stats, FetchedAt: time.Now().UTC()}
	p.ok = true
}

// Latest returns the current snapshot; false until the first successful fetch.
func (p *Poller) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, p.ok
}

// OrderStats serves the latest snapshot. Before the first successful poll it
// fetches directly.
func (p *Poller) OrderStats(ctx context.Context) (*backend.OrderStats, error) {
	if snap, ok := p.Latest(); ok {
		return snap.Stats, nil
	}

	p.fetches.Add(1)
	stats, err := p.fetcher.OrderStats(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ok {
		p.snap = Snapshot{Stats: stats, FetchedAt: time.Now().UTC()}
		p.ok = true
	}
	return stats, nil
}

// Fetches counts requests actually sent.
func (p *Poller) Fetches() int64 { return p.fetches.Load() }

// Skipped counts ticks dropped because a fetch was still running.
func (p *Poller) Skipped() int64 { return p.skipped.Load() }
