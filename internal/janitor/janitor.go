// Package janitor implements the background sweep that deletes expired stories.
// It operates independently from request paths: each cycle expires the day
// shards for yesterday and today, and every ScanEvery cycles it also runs the
// full-table scan that catches stories the shard queries can no longer reach.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/storyline/internal/metrics"
)

// Sweeper is the slice of the app Service a sweep needs.
type Sweeper interface {
	// ExpireStories deletes stories in yesterday's shard and today's shard up to now.
	ExpireStories(ctx context.Context, now time.Time) (int, error)
	// ExpireStoriesWithScan deletes every story that expired before cutoffDate's day.
	ExpireStoriesWithScan(ctx context.Context, cutoffDate time.Time) (int, error)
}

// Observer receives per-cycle observations; the metrics Manager satisfies it.
type Observer interface {
	Observe(name string, value int64)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	// ScanEvery runs the scan fallback on every Nth cycle; 0 disables it.
	ScanEvery int
	Logger    *slog.Logger     // optional logger (defaults to slog.Default())
	Now       func() time.Time // optional clock (defaults to time.Now)
}

// Metrics accumulates counters (in-memory) for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Scans               uint64
	Expired             uint64
	Errors              uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Scans               uint64
	Expired             uint64
	Errors              uint64
	CycleLastDurationMS int64
}

func (m *Metrics) addExpired(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.Expired += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) addError() {
	m.mu.Lock()
	m.Errors++
	m.mu.Unlock()
}

func (m *Metrics) recordCycle(d time.Duration, scanned bool) {
	m.mu.Lock()
	m.Cycles++
	if scanned {
		m.Scans++
	}
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor encapsulates the background sweep loop.
type Janitor struct {
	sweeper  Sweeper
	observer Observer
	cfg      Config
	metrics  *Metrics
	cycle    int

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. observer may be nil.
func New(sweeper Sweeper, observer Observer, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Janitor{
		sweeper:  sweeper,
		observer: observer,
		cfg:      cfg,
		metrics:  &Metrics{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		Scans:               j.metrics.Scans,
		Expired:             j.metrics.Expired,
		Errors:              j.metrics.Errors,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one sweep: the shard expiry, then the scan fallback when due.
// The cycle is only ever run from the loop goroutine.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	now := j.cfg.Now().UTC()
	j.cycle++

	expired, err := j.sweeper.ExpireStories(ctx, now)
	if err != nil && !errors.Is(err, context.Canceled) {
		j.metrics.addError()
		log.Error("expire", "error", err)
	}

	scanned := j.cfg.ScanEvery > 0 && j.cycle%j.cfg.ScanEvery == 0
	if scanned {
		n, serr := j.sweeper.ExpireStoriesWithScan(ctx, now)
		if serr != nil && !errors.Is(serr, context.Canceled) {
			j.metrics.addError()
			log.Error("expire scan", "error", serr)
		}
		expired += n
	}

	elapsed := time.Since(start)
	j.metrics.addExpired(expired)
	j.metrics.recordCycle(elapsed, scanned)
	if j.observer != nil {
		j.observer.Observe(metrics.SummarySweepExpiredPerCycle, int64(expired))
		j.observer.Observe(metrics.SummarySweepCycleMillis, elapsed.Milliseconds())
	}
	log.Info("cycle complete", "expired", expired, "scanned", scanned, "ms", elapsed.Milliseconds())
}
