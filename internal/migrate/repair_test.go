package migrate

import (
	"context"
	"testing"

	"github.com/doodlery/doodlery/internal/drawing"
	"github.com/doodlery/doodlery/internal/host"
	"github.com/doodlery/doodlery/internal/store"
)

func TestRepairRestoresMissingIndexes(t *testing.T) {
	ctx := context.Background()

	// Each case knocks out a different subset of derived state; every one
	// must converge back through repair on the next access.
	cases := map[string]func(t *testing.T, s store.Store){
		"one index missing": func(t *testing.T, s store.Store) {
			if err := s.ZRem(ctx, testScope, wordIndexKey("cat"), "p1"); err != nil {
				t.Fatal(err)
			}
		},
		"all indexes missing": func(t *testing.T, s store.Store) {
			for _, key := range []string{wordIndexKey("cat"), authorIndexKey("u1"), globalIndexKey} {
				if err := s.ZRem(ctx, testScope, key, "p1"); err != nil {
					t.Fatal(err)
				}
			}
			if err := s.ZRem(ctx, testScope, galleryKey("u1"), galleryMember("p1")); err != nil {
				t.Fatal(err)
			}
		},
		"gallery snapshot missing": func(t *testing.T, s store.Store) {
			if err := s.Del(ctx, testScope, galleryItemKey(galleryMember("p1"))); err != nil {
				t.Fatal(err)
			}
		},
	}

	for name, damage := range cases {
		t.Run(name, func(t *testing.T) {
			e, s, platform := newTestEngine(t)
			post := seedV1(t, s, platform, "p1")
			if !e.Migrate(ctx, post) {
				t.Fatal("seed migration failed")
			}
			damage(t, s)

			fresh, err := platform.PostByID(ctx, "p1")
			if err != nil {
				t.Fatal(err)
			}
			if e.Validate(ctx, fresh) {
				t.Fatal("Validate passed on damaged state")
			}
			if !e.Migrate(ctx, fresh) {
				t.Fatal("repair migration returned false")
			}
			if !e.Validate(ctx, fresh) {
				t.Error("Validate still failing after repair")
			}
		})
	}
}

// Repairing an already-consistent record must write nothing.
func TestRepairIndexesIdempotent(t *testing.T) {
	ctx := context.Background()
	raw, err := store.OpenBadger(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { raw.Close() })
	counting := &countingStore{Store: raw}
	platform := host.NewStorePlatform(counting, testScope)
	e := New(Config{Store: counting, Scope: testScope, Host: platform})

	post := seedV1(t, counting, platform, "p1")
	if !e.Migrate(ctx, post) {
		t.Fatal("seed migration failed")
	}
	fields, err := counting.HGetAll(ctx, testScope, postKey("p1"))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := recordFromFields("p1", fields)
	if err != nil {
		t.Fatal(err)
	}

	counting.reset()
	if err := e.RepairIndexes(ctx, rec); err != nil {
		t.Fatalf("RepairIndexes: %v", err)
	}
	if n := counting.count(); n != 0 {
		t.Errorf("RepairIndexes on consistent record issued %d writes, want 0", n)
	}
}

// Index scores of zero are legitimate; repair must treat a present member
// with score 0 as present, not missing.
func TestRepairTreatsZeroScoreAsPresent(t *testing.T) {
	ctx := context.Background()
	raw, err := store.OpenBadger(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { raw.Close() })
	counting := &countingStore{Store: raw}
	platform := host.NewStorePlatform(counting, testScope)
	e := New(Config{Store: counting, Scope: testScope, Host: platform})

	rec := &drawing.Record{
		ID:             "p1",
		Word:           "Cat",
		NormalizedWord: "cat",
		Dictionary:     drawing.DefaultDictionary,
		Drawing:        drawing.FromLegacyPixels(nil),
		AuthorID:       "u1",
		AuthorName:     "alice",
		CreatedAt:      0,
	}
	for _, idx := range []struct{ key, member string }{
		{wordIndexKey(rec.NormalizedWord), rec.ID},
		{authorIndexKey(rec.AuthorID), rec.ID},
		{globalIndexKey, rec.ID},
		{galleryKey(rec.AuthorID), galleryMember(rec.ID)},
	} {
		if err := counting.ZAdd(ctx, testScope, idx.key, idx.member, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.RepairIndexes(ctx, rec); err != nil {
		t.Fatalf("first RepairIndexes: %v", err)
	}

	// The first run may only have written the gallery snapshot; with the
	// snapshot in place, a second run must issue no writes at all.
	counting.reset()
	if err := e.RepairIndexes(ctx, rec); err != nil {
		t.Fatalf("second RepairIndexes: %v", err)
	}
	if n := counting.count(); n != 0 {
		t.Errorf("repair re-added zero-score entries: %d writes, want 0", n)
	}
}
