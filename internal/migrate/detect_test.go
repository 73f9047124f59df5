package migrate

import (
	"context"
	"testing"

	"github.com/doodlery/doodlery/internal/host"
	"github.com/doodlery/doodlery/internal/store"
)

func TestDetectSchemaVersion(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newTestEngine(t)

	seed := func(t *testing.T, id string, fn func()) Version {
		t.Helper()
		fn()
		v, err := e.DetectSchemaVersion(ctx, id)
		if err != nil {
			t.Fatalf("DetectSchemaVersion(%q): %v", id, err)
		}
		return v
	}

	t.Run("nothing stored", func(t *testing.T) {
		if v := seed(t, "p0", func() {}); v != VersionNone {
			t.Errorf("got %v, want none", v)
		}
	})

	t.Run("v1 scalar", func(t *testing.T) {
		v := seed(t, "p1", func() {
			mustSet(t, s, "p1", `{"word":"cat","data":[1]}`)
		})
		if v != Version1 {
			t.Errorf("got %v, want v1", v)
		}
	})

	t.Run("v2 hash", func(t *testing.T) {
		v := seed(t, "p2", func() {
			mustHSet(t, s, drawingV2Key("p2"), map[string]string{fieldType: typeDrawing, "word": "cat"})
		})
		if v != Version2 {
			t.Errorf("got %v, want v2", v)
		}
	})

	t.Run("v3 canonical", func(t *testing.T) {
		v := seed(t, "p3", func() {
			mustHSet(t, s, postKey("p3"), map[string]string{fieldType: typeDrawing, "word": "cat"})
		})
		if v != Version3 {
			t.Errorf("got %v, want v3", v)
		}
	})

	// Mid-migration state: canonical written, legacy not yet cleaned up.
	// Newest generation must win or the record would be migrated twice.
	t.Run("v3 shadows v2 and v1", func(t *testing.T) {
		v := seed(t, "p4", func() {
			mustSet(t, s, "p4", `{"word":"cat","data":[1]}`)
			mustHSet(t, s, drawingV2Key("p4"), map[string]string{fieldType: typeDrawing, "word": "cat"})
			mustHSet(t, s, postKey("p4"), map[string]string{fieldType: typeDrawing, "word": "cat"})
		})
		if v != Version3 {
			t.Errorf("got %v, want v3", v)
		}
	})

	t.Run("v2 shadows v1", func(t *testing.T) {
		v := seed(t, "p5", func() {
			mustSet(t, s, "p5", `{"word":"cat","data":[1]}`)
			mustHSet(t, s, drawingV2Key("p5"), map[string]string{fieldType: typeDrawing, "word": "cat"})
		})
		if v != Version2 {
			t.Errorf("got %v, want v2", v)
		}
	})

	t.Run("canonical key owned by another record kind", func(t *testing.T) {
		v := seed(t, "p6", func() {
			mustHSet(t, s, postKey("p6"), map[string]string{fieldType: "poll", "question": "?"})
		})
		if v != VersionNone {
			t.Errorf("got %v, want none", v)
		}
	})

	t.Run("v2 hash left under the bare id", func(t *testing.T) {
		v := seed(t, "p7", func() {
			mustHSet(t, s, v1Key("p7"), map[string]string{fieldType: typeDrawing, "word": "cat"})
		})
		if v != Version2 {
			t.Errorf("got %v, want v2", v)
		}
	})

	t.Run("non-drawing hash under the bare id", func(t *testing.T) {
		v := seed(t, "p8", func() {
			mustHSet(t, s, v1Key("p8"), map[string]string{fieldType: "poll"})
		})
		if v != VersionNone {
			t.Errorf("got %v, want none", v)
		}
	})
}

func TestVersionString(t *testing.T) {
	for v, want := range map[Version]string{VersionNone: "none", Version1: "v1", Version2: "v2", Version3: "v3"} {
		if got := v.String(); got != want {
			t.Errorf("Version(%d).String() = %q, want %q", int(v), got, want)
		}
	}
}

func mustSet(t *testing.T, s store.Store, key, value string) {
	t.Helper()
	if err := s.Set(context.Background(), testScope, key, value, 0); err != nil {
		t.Fatalf("Set %q: %v", key, err)
	}
}

func mustHSet(t *testing.T, s store.Store, key string, fields map[string]string) {
	t.Helper()
	if err := s.HSet(context.Background(), testScope, key, fields); err != nil {
		t.Fatalf("HSet %q: %v", key, err)
	}
}

func mustPutUser(t *testing.T, p *host.StorePlatform, id, name string) {
	t.Helper()
	if err := p.PutUser(context.Background(), &host.User{ID: id, Name: name}); err != nil {
		t.Fatalf("PutUser %q: %v", id, err)
	}
}

func mustPutPost(t *testing.T, p *host.StorePlatform, post *host.Post) {
	t.Helper()
	if err := p.PutPost(context.Background(), post); err != nil {
		t.Fatalf("PutPost %q: %v", post.ID, err)
	}
}
