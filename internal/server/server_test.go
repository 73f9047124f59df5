package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/doodlery/doodlery/internal/host"
	"github.com/doodlery/doodlery/internal/migrate"
	"github.com/doodlery/doodlery/internal/store"
)

const testScope = store.Scope("test")

func newTestServer(t *testing.T) (*Server, store.Store, *host.StorePlatform) {
	t.Helper()
	s, err := store.OpenBadger(t.TempDir(), false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	platform := host.NewStorePlatform(s, testScope)
	engine := migrate.New(migrate.Config{Store: s, Scope: testScope, Host: platform})
	return New(engine, ":0"), s, platform
}

func doJSON(t *testing.T, h http.Handler, method, path string, wantStatus int) map[string]any {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s = %d, want %d (body %s)", method, path, rec.Code, wantStatus, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestStatusEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/migration/status", http.StatusOK)
	for _, field := range []string{"succeeded", "skipped", "failed"} {
		if got, _ := body[field].(float64); got != 0 {
			t.Errorf("%s = %v, want 0", field, body[field])
		}
	}
	if failures, ok := body["recent_failures"].([]any); !ok || len(failures) != 0 {
		t.Errorf("recent_failures = %v, want empty array", body["recent_failures"])
	}
}

func TestSchemaEndpoint(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	if err := s.Set(ctx, testScope, "p1", `{"word":"cat","data":[1]}`, 0); err != nil {
		t.Fatal(err)
	}

	body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/migration/schema/p1", http.StatusOK)
	if body["schema"] != "v1" || body["post_id"] != "p1" {
		t.Errorf("schema response = %v, want v1/p1", body)
	}

	body = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/migration/schema/unknown", http.StatusOK)
	if body["schema"] != "none" {
		t.Errorf("schema for unknown record = %v, want none", body["schema"])
	}
}

func TestRunEndpoint(t *testing.T) {
	srv, s, platform := newTestServer(t)
	ctx := context.Background()

	if err := platform.PutUser(ctx, &host.User{ID: "u1", Name: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := platform.PutPost(ctx, &host.Post{
		ID: "p1", AuthorID: "u1", AuthorName: "alice", CreatedAt: time.UnixMilli(1700000000000),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, testScope, "p1",
		`{"word":"Cat","data":[1,2,3],"author":"alice","date":"1700000000000"}`, 0); err != nil {
		t.Fatal(err)
	}

	body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/migration/run/p1", http.StatusOK)
	if body["migrated"] != true {
		t.Fatalf("run response = %v, want migrated true", body)
	}
	if exists, _ := s.Exists(ctx, testScope, "post:p1"); !exists {
		t.Error("canonical record missing after run")
	}

	// An unknown id still answers 200, just with migrated false.
	body = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/migration/run/unknown", http.StatusOK)
	if body["migrated"] != false {
		t.Errorf("run for unknown record = %v, want migrated false", body)
	}

	// Ledger shows the success.
	body = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/migration/status", http.StatusOK)
	if got, _ := body["succeeded"].(float64); got != 1 {
		t.Errorf("succeeded = %v, want 1", body["succeeded"])
	}
}

func TestStatusReportsRecentFailures(t *testing.T) {
	srv, s, platform := newTestServer(t)
	ctx := context.Background()

	// A V2 record whose author cannot be resolved hard-fails.
	if err := s.HSet(ctx, testScope, "drawing:p9", map[string]string{
		"type": "drawing", "word": "Dog", "authorUsername": "ghost", "data": "[1]",
	}); err != nil {
		t.Fatal(err)
	}
	if err := platform.PutPost(ctx, &host.Post{ID: "p9", CreatedAt: time.UnixMilli(1600000000000)}); err != nil {
		t.Fatal(err)
	}

	body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/migration/run/p9", http.StatusOK)
	if body["migrated"] != false {
		t.Fatalf("run response = %v, want migrated false", body)
	}

	body = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/migration/status", http.StatusOK)
	if got, _ := body["failed"].(float64); got != 1 {
		t.Errorf("failed = %v, want 1", body["failed"])
	}
	failures, _ := body["recent_failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("recent_failures = %v, want one entry", body["recent_failures"])
	}
	entry, _ := failures[0].(map[string]any)
	if entry["post_id"] != "p9" {
		t.Errorf("failure entry = %v, want post_id p9", entry)
	}
	if ms, _ := entry["failed_at"].(float64); ms <= 0 {
		t.Errorf("failed_at = %v, want a positive timestamp", entry["failed_at"])
	}
}
