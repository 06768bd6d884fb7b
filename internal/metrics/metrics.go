// Package metrics batches counter and summary observations in memory and
// periodically flushes them to a local SQLite database. Only monotonic
// counters and (count, sum, min, max) summaries are supported.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Counter names.
const (
	CounterPostsCreated      = "posts_created_total"
	CounterPostsDeleted      = "posts_deleted_total"
	CounterStatusChanges     = "post_status_changes_total"
	CounterStoriesExpired    = "stories_expired_total"
	CounterPointerRefreshes  = "ffs_refreshes_total"
	CounterPointerRefreshErr = "ffs_refresh_errors_total"
	CounterFollows           = "follows_total"
	CounterUnfollows         = "unfollows_total"
)

// Summary names.
const (
	SummarySweepExpiredPerCycle = "sweep_expired_per_cycle"
	SummarySweepCycleMillis     = "sweep_cycle_ms"
)

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Summary aggregates observations of one named value.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

func (s *Summary) merge(o Summary) {
	if s.Count == 0 {
		*s = o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg     Config
	db      *sql.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started bool

	// in-memory deltas since the last flush
	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]Summary),
	}
}

// InitSchema ensures the metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS metrics_counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics_summaries (
	name TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	sum INTEGER NOT NULL,
	min INTEGER NOT NULL,
	max INTEGER NOT NULL
);`
	_, err := m.db.ExecContext(ctx, ddl)
	return errors.Wrap(err, "metrics: create tables")
}

// Start launches the background flush loop.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

// Stop ends the flush loop and flushes whatever is left.
func (m *Manager) Stop(ctx context.Context) {
	if m.started {
		close(m.stop)
		<-m.done
	}
	m.drain()
	if err := m.flush(ctx); err != nil {
		m.cfg.Logger.Error("final flush", "domain", "metrics", "error", err)
	}
}

// Inc increments a counter by delta (>=1). Events are dropped when the
// buffer is full.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.send(event{kind: eventInc, name: name, v: delta})
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	m.send(event{kind: eventObserve, name: name, v: value})
}

func (m *Manager) send(ev event) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

// drain applies buffered events without blocking.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		s := m.summaries[ev.name]
		s.merge(Summary{Count: 1, Sum: ev.v, Min: ev.v, Max: ev.v})
		m.summaries[ev.name] = s
	}
}

// Snapshot returns the persisted values with unflushed deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error) {
	counters := make(map[string]int64)
	summaries := make(map[string]Summary)

	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "metrics: read counters")
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			return nil, nil, errors.Wrap(err, "metrics: scan counter")
		}
		counters[n] = v
	}

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "metrics: read summaries")
	}
	defer srows.Close()
	for srows.Next() {
		var n string
		var s Summary
		if err := srows.Scan(&n, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return nil, nil, errors.Wrap(err, "metrics: scan summary")
		}
		summaries[n] = s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range m.counters {
		counters[n] += v
	}
	for n, delta := range m.summaries {
		s := summaries[n]
		s.merge(delta)
		summaries[n] = s
	}
	return counters, summaries, nil
}

// flush writes in-memory deltas in one transaction and resets them.
func (m *Manager) flush(ctx context.Context) (err error) {
	m.mu.Lock()
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	counters := maps.Clone(m.counters)
	summaries := maps.Clone(m.summaries)
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]Summary)
	m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "metrics: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for name, delta := range counters {
		if _, err = tx.ExecContext(ctx, `INSERT INTO metrics_counters(name,value) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			return errors.Wrapf(err, "metrics: upsert counter %s", name)
		}
	}
	for name, s := range summaries {
		if _, err = tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?) ON CONFLICT(name) DO UPDATE SET count = metrics_summaries.count + excluded.count, sum = metrics_summaries.sum + excluded.sum, min = MIN(metrics_summaries.min, excluded.min), max = MAX(metrics_summaries.max, excluded.max)`, name, s.Count, s.Sum, s.Min, s.Max); err != nil {
			return errors.Wrapf(err, "metrics: upsert summary %s", name)
		}
	}
	return errors.Wrap(tx.Commit(), "metrics: commit")
}
