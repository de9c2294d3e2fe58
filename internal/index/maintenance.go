package index

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Maintainer periodically rebuilds the in-memory backend from the durable
// live set and hard-purges rows that have been soft-deleted for longer than
// the retention window. The schedule is a 5-field cron expression; "@hourly"
// and "@daily" shorthands work too.
type Maintainer struct {
	hybrid    *Hybrid
	cronSpec  string
	retention time.Duration
	logger    *log.Logger
	stop      chan struct{}
}

// NewMaintainer builds a stopped maintainer; call Start to run it.
func NewMaintainer(hybrid *Hybrid, cronSpec string, retention time.Duration, logger *log.Logger) *Maintainer {
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Maintainer{
		hybrid:    hybrid,
		cronSpec:  cronSpec,
		retention: retention,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start launches the maintenance loop. A missing or invalid cron spec
// disables maintenance entirely.
func (m *Maintainer) Start(ctx context.Context) {
	if m.cronSpec == "" {
		return
	}
	expr, err := cronexpr.Parse(m.cronSpec)
	if err != nil {
		m.logger.Printf("invalid maintenance cron %q, maintenance disabled: %v", m.cronSpec, err)
		return
	}
	go func() {
		for {
			next := expr.Next(time.Now())
			if next.IsZero() {
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-m.stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				m.runOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop. Safe to call once.
func (m *Maintainer) Stop() { close(m.stop) }

// RunOnce performs a single maintenance pass immediately.
func (m *Maintainer) RunOnce(ctx context.Context) { m.runOnce(ctx) }

func (m *Maintainer) runOnce(ctx context.Context) {
	n, err := m.hybrid.RebuildFromDurable(ctx)
	if err != nil {
		m.logger.Printf("maintenance rebuild failed: %v", err)
	} else if n > 0 {
		m.logger.Printf("maintenance rebuild loaded %d chunks", n)
	}
	purger, ok := m.hybrid.durable.(interface {
		PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error)
	})
	if !ok {
		return
	}
	purged, err := purger.PurgeInactive(ctx, time.Now().Add(-m.retention))
	if err != nil {
		m.logger.Printf("maintenance purge failed: %v", err)
	} else if purged > 0 {
		m.logger.Printf("maintenance purged %d inactive chunks", purged)
	}
}
