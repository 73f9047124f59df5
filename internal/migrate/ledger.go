package migrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/doodlery/doodlery/internal/store"
)

// Ledger is the append-only record of migration outcomes: timestamped
// skipped/failed sets plus a monotonic succeeded counter, all living in the
// store for operational dashboards.
type Ledger struct {
	store store.Store
	scope store.Scope
	now   func() time.Time
}

// NewLedger returns a Ledger in the given scope.
func NewLedger(s store.Store, scope store.Scope) *Ledger {
	return &Ledger{store: s, scope: scope, now: time.Now}
}

// RecordSkipped notes a record that was not a drawing (or had no data).
func (l *Ledger) RecordSkipped(ctx context.Context, id string) error {
	return l.store.ZAdd(ctx, l.scope, ledgerSkippedKey, id, float64(l.now().UnixMilli()))
}

// RecordFailed notes a record whose migration hard-failed.
func (l *Ledger) RecordFailed(ctx context.Context, id string) error {
	return l.store.ZAdd(ctx, l.scope, ledgerFailedKey, id, float64(l.now().UnixMilli()))
}

// MarkSucceeded bumps the monotonic succeeded counter. Called only after a
// post-migration validation pass.
func (l *Ledger) MarkSucceeded(ctx context.Context) (int64, error) {
	return l.store.Incr(ctx, l.scope, ledgerSucceededKey)
}

func (l *Ledger) SkippedCount(ctx context.Context) (int64, error) {
	return l.store.ZCard(ctx, l.scope, ledgerSkippedKey)
}

func (l *Ledger) FailedCount(ctx context.Context) (int64, error) {
	return l.store.ZCard(ctx, l.scope, ledgerFailedKey)
}

func (l *Ledger) SucceededCount(ctx context.Context) (int64, error) {
	v, found, err := l.store.Get(ctx, l.scope, ledgerSucceededKey)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("succeeded counter: %w", err)
	}
	return n, nil
}

// RecentFailures returns up to n most recent failed record ids, newest
// first, with their timestamps as scores.
func (l *Ledger) RecentFailures(ctx context.Context, n int64) ([]store.ZEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	return l.store.ZRange(ctx, l.scope, ledgerFailedKey, 0, n-1, true)
}

// Trim caps both outcome sets at max entries each, discarding the oldest.
// Run by the maintenance loop; the counter is never touched.
func (l *Ledger) Trim(ctx context.Context, max int64) error {
	for _, key := range []string{ledgerSkippedKey, ledgerFailedKey} {
		card, err := l.store.ZCard(ctx, l.scope, key)
		if err != nil {
			return err
		}
		if card <= max {
			continue
		}
		old, err := l.store.ZRange(ctx, l.scope, key, 0, card-max-1, false)
		if err != nil {
			return err
		}
		members := make([]string, len(old))
		for i, e := range old {
			members[i] = e.Member
		}
		if err := l.store.ZRem(ctx, l.scope, key, members...); err != nil {
			return err
		}
	}
	return nil
}
