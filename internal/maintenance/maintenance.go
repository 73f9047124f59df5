// Package maintenance runs periodic housekeeping around the migration
// engine: outcome-ledger trimming, store garbage collection, and counter
// logging. It never migrates records; migration stays lazy.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/doodlery/doodlery/internal/migrate"
)

// Sweeper is implemented by backends that need an explicit pass to reclaim
// expired or dead data (Pebble's lazy-expiry scalars, Badger's value log).
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Config holds maintenance cadence and limits.
type Config struct {
	Interval     time.Duration // base tick cadence (default 30s)
	LedgerCap    int64         // max entries kept per outcome set (default 10000)
	TrimInterval time.Duration // ledger trim cadence (default 5m)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		LedgerCap:    10000,
		TrimInterval: 5 * time.Minute,
	}
}

// Loop is the housekeeping loop. A nil sweeper disables sweeping.
type Loop struct {
	ledger   *migrate.Ledger
	sweeper  Sweeper
	config   Config
	lastTrim time.Time
}

// New creates a Loop. Zero config fields fall back to defaults.
func New(ledger *migrate.Ledger, sweeper Sweeper, config Config) *Loop {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.LedgerCap <= 0 {
		config.LedgerCap = def.LedgerCap
	}
	if config.TrimInterval <= 0 {
		config.TrimInterval = def.TrimInterval
	}
	return &Loop{ledger: ledger, sweeper: sweeper, config: config}
}

// Run blocks until the context is cancelled, ticking at the configured
// interval.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()
	slog.Info("maintenance loop started", "interval", l.config.Interval, "ledger_cap", l.config.LedgerCap)
	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance loop stopped")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.sweeper != nil {
		if n, err := l.sweeper.SweepExpired(ctx); err != nil {
			slog.Warn("expiry sweep failed", "error", err)
		} else if n > 0 {
			slog.Debug("expiry sweep", "reclaimed", n)
		}
	}
	if time.Since(l.lastTrim) >= l.config.TrimInterval {
		l.lastTrim = time.Now()
		if err := l.ledger.Trim(ctx, l.config.LedgerCap); err != nil {
			slog.Warn("ledger trim failed", "error", err)
		}
		l.logCounters(ctx)
	}
}

func (l *Loop) logCounters(ctx context.Context) {
	skipped, err1 := l.ledger.SkippedCount(ctx)
	failed, err2 := l.ledger.FailedCount(ctx)
	succeeded, err3 := l.ledger.SucceededCount(ctx)
	if err1 != nil || err2 != nil || err3 != nil {
		slog.Warn("ledger counter read failed", "skipped_err", err1, "failed_err", err2, "succeeded_err", err3)
		return
	}
	slog.Info("migration counters", "succeeded", succeeded, "skipped", skipped, "failed", failed)
}
