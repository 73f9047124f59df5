package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type statusResponse struct {
	Succeeded      int64          `json:"succeeded"`
	Skipped        int64          `json:"skipped"`
	Failed         int64          `json:"failed"`
	RecentFailures []failureEntry `json:"recent_failures"`
}

type failureEntry struct {
	PostID   string `json:"post_id"`
	FailedAt int64  `json:"failed_at"` // epoch millis
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ledger := s.engine.Ledger()

	succeeded, err := ledger.SucceededCount(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "LEDGER_READ")
		return
	}
	skipped, err := ledger.SkippedCount(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "LEDGER_READ")
		return
	}
	failed, err := ledger.FailedCount(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "LEDGER_READ")
		return
	}
	recent, err := ledger.RecentFailures(ctx, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "LEDGER_READ")
		return
	}

	resp := statusResponse{
		Succeeded:      succeeded,
		Skipped:        skipped,
		Failed:         failed,
		RecentFailures: make([]failureEntry, 0, len(recent)),
	}
	for _, e := range recent {
		resp.RecentFailures = append(resp.RecentFailures, failureEntry{PostID: e.Member, FailedAt: int64(e.Score)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing record id", "BAD_REQUEST")
		return
	}
	version, err := s.engine.DetectSchemaVersion(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "DETECT")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"post_id": id,
		"schema":  version.String(),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing record id", "BAD_REQUEST")
		return
	}
	migrated := s.engine.MigrateByID(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{
		"post_id":  id,
		"migrated": migrated,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
