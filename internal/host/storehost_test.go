package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/doodlery/doodlery/internal/store"
)

const testScope = store.Scope("test")

func newTestPlatform(t *testing.T) (*StorePlatform, store.Store) {
	t.Helper()
	s, err := store.OpenBadger(t.TempDir(), false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewStorePlatform(s, testScope), s
}

func TestPostRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPlatform(t)

	created := time.UnixMilli(1700000000000)
	in := &Post{
		ID:         "p1",
		AuthorID:   "u1",
		AuthorName: "alice",
		CreatedAt:  created,
		Data:       map[string]any{"word": "Cat"},
	}
	if err := p.PutPost(ctx, in); err != nil {
		t.Fatalf("PutPost: %v", err)
	}

	out, err := p.PostByID(ctx, "p1")
	if err != nil {
		t.Fatalf("PostByID: %v", err)
	}
	if out.AuthorID != "u1" || out.AuthorName != "alice" {
		t.Errorf("author = %q/%q, want u1/alice", out.AuthorID, out.AuthorName)
	}
	if !out.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v, want %v", out.CreatedAt, created)
	}
	if out.Data["word"] != "Cat" {
		t.Errorf("data = %v, want word Cat", out.Data)
	}
}

func TestPostByIDNotFound(t *testing.T) {
	p, _ := newTestPlatform(t)
	if _, err := p.PostByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// SetPostData replaces the data bag without touching the envelope fields.
func TestSetPostDataPreservesEnvelope(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPlatform(t)

	if err := p.PutPost(ctx, &Post{ID: "p1", AuthorID: "u1", AuthorName: "alice", CreatedAt: time.UnixMilli(1000)}); err != nil {
		t.Fatal(err)
	}
	if err := p.SetPostData(ctx, "p1", map[string]any{"word": "Dog"}); err != nil {
		t.Fatalf("SetPostData: %v", err)
	}

	out, err := p.PostByID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if out.AuthorID != "u1" || out.AuthorName != "alice" {
		t.Errorf("envelope clobbered: %+v", out)
	}
	if out.Data["word"] != "Dog" {
		t.Errorf("data = %v, want word Dog", out.Data)
	}
}

func TestUserLookups(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPlatform(t)

	if err := p.PutUser(ctx, &User{ID: "u1", Name: "alice"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	u, err := p.UserByID(ctx, "u1")
	if err != nil || u.Name != "alice" {
		t.Errorf("UserByID = (%+v, %v), want alice", u, err)
	}
	u, err = p.UserByName(ctx, "alice")
	if err != nil || u.ID != "u1" {
		t.Errorf("UserByName = (%+v, %v), want u1", u, err)
	}

	if _, err := p.UserByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UserByID ghost err = %v, want ErrNotFound", err)
	}
	if _, err := p.UserByName(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UserByName ghost err = %v, want ErrNotFound", err)
	}
}

func TestCreateComment(t *testing.T) {
	ctx := context.Background()
	p, s := newTestPlatform(t)

	if err := p.CreateComment(ctx, "p1", "first"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if err := p.CreateComment(ctx, "p1", "second"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	comments, err := s.HGetAll(ctx, testScope, "comments:p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 {
		t.Fatalf("comment count = %d, want 2", len(comments))
	}
	bodies := map[string]bool{}
	for _, body := range comments {
		bodies[body] = true
	}
	if !bodies["first"] || !bodies["second"] {
		t.Errorf("comment bodies = %v", comments)
	}
}
