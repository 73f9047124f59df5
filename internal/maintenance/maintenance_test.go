package maintenance

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doodlery/doodlery/internal/migrate"
	"github.com/doodlery/doodlery/internal/store"
)

const testScope = store.Scope("test")

func newTestLedger(t *testing.T) (*migrate.Ledger, store.Store) {
	t.Helper()
	s, err := store.OpenBadger(t.TempDir(), false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return migrate.NewLedger(s, testScope), s
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) SweepExpired(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != 30*time.Second || cfg.LedgerCap != 10000 || cfg.TrimInterval != 5*time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	// Zero fields in New fall back to the same defaults.
	ledger, _ := newTestLedger(t)
	l := New(ledger, nil, Config{})
	if l.config != cfg {
		t.Errorf("New(zero config) = %+v, want %+v", l.config, cfg)
	}
}

func TestLoopRunsAndStops(t *testing.T) {
	ledger, _ := newTestLedger(t)
	sweeper := &countingSweeper{}
	l := New(ledger, sweeper, Config{Interval: 10 * time.Millisecond, TrimInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper not invoked after 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTickTrimsLedger(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := ledger.RecordFailed(ctx, fmt.Sprintf("f%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	l := New(ledger, nil, Config{LedgerCap: 3})
	l.tick(ctx)

	if n, _ := ledger.FailedCount(ctx); n != 3 {
		t.Errorf("failed count after tick = %d, want 3", n)
	}

	// Within the trim interval the next tick leaves the ledger alone.
	if err := ledger.RecordFailed(ctx, "f6"); err != nil {
		t.Fatal(err)
	}
	l.tick(ctx)
	if n, _ := ledger.FailedCount(ctx); n != 4 {
		t.Errorf("failed count inside trim interval = %d, want 4", n)
	}
}

func TestTickToleratesSweepError(t *testing.T) {
	ledger, _ := newTestLedger(t)
	sweeper := &countingSweeper{err: fmt.Errorf("disk on fire")}
	l := New(ledger, sweeper, Config{})
	l.tick(context.Background())
	if sweeper.calls.Load() != 1 {
		t.Errorf("sweeper calls = %d, want 1", sweeper.calls.Load())
	}
}
