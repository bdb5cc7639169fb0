package usage

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/metrics"
)

// Archiver receives counters before they are deleted, grouped by day.
type Archiver interface {
	ArchiveCounters(ctx context.Context, day string, counters []Counter) error
}

// Pruner deletes counters older than the retention window.
type Pruner struct {
	store     Store
	archiver  Archiver
	retention time.Duration
	interval  time.Duration
	loc       *time.Location
	log       *slog.Logger
	now       func() time.Time
}

// PrunerOption configures a Pruner.
type PrunerOption func(*Pruner)

// WithArchiver archives counters before deletion; an archive failure aborts the pass.
func WithArchiver(a Archiver) PrunerOption {
	return func(p *Pruner) { p.archiver = a }
}

func WithRetention(d time.Duration) PrunerOption {
	return func(p *Pruner) {
		if d > 0 {
			p.retention = d
		}
	}
}

func WithPruneInterval(d time.Duration) PrunerOption {
	return func(p *Pruner) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithPrunerLocation(loc *time.Location) PrunerOption {
	return func(p *Pruner) {
		if loc != nil {
			p.loc = loc
		}
	}
}

func WithPrunerLogger(l *slog.Logger) PrunerOption {
	return func(p *Pruner) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPruner(store Store, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		store:     store,
		retention: 90 * 24 * time.Hour,
		interval:  24 * time.Hour,
		loc:       time.UTC,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.Component("usage_pruner"))
	return p
}

// PruneOnce archives and deletes every counter whose day is older than now minus
// the retention window. It returns the number of deleted counters.
func (p *Pruner) PruneOnce(ctx context.Context, now time.Time) (int64, error) {
	before := DayOf(now.Add(-p.retention), p.loc)

	if p.archiver != nil {
		counters, err := p.store.ListBefore(ctx, before)
		if err != nil {
			return 0, err
		}
		byDay := make(map[string][]Counter)
		for _, c := range counters {
			byDay[c.Day] = append(byDay[c.Day], c)
		}
		days := make([]string, 0, len(byDay))
		for d := range byDay {
			days = append(days, d)
		}
		slices.Sort(days)
		for _, d := range days {
			if err := p.archiver.ArchiveCounters(ctx, d, byDay[d]); err != nil {
				return 0, err
			}
		}
	}

	n, err := p.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	metrics.CountersPruned.Add(float64(n))
	p.log.InfoContext(ctx, "usage counters pruned", "before_day", before, "deleted", n)
	return n, nil
}

// Run prunes once immediately and then every interval until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PruneOnce(ctx, p.now()); err != nil && ctx.Err() == nil {
			p.log.ErrorContext(ctx, "usage prune failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
