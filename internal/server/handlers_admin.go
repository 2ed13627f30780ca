package server

import (
	"context"
	"net/http"
	"time"

	"github.com/weintegritywork/weintegrity-ppm/internal/audit"
	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
)

type healthBody struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	body := healthBody{Status: "ok", Backend: s.deps.Backend.Name()}
	if err := s.deps.Backend.Ping(ctx); err != nil {
		loggerFrom(r).Warn("health check failed", "error", err)
		body.Status = "unavailable"
		body.Error = "storage unreachable"
		writeJSONStatus(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, body)
}

type auditBody struct {
	Entries []audit.Entry `json:"entries"`
	Intact  bool          `json:"intact"`
}

// handleAudit lists the in-process audit trail. Admins only.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	if id.Role != auth.RoleAdmin {
		writeError(w, r, auth.ErrForbidden)
		return
	}
	if s.deps.Audit == nil {
		writeJSON(w, auditBody{Entries: []audit.Entry{}, Intact: true})
		return
	}
	entries := s.deps.Audit.Entries()
	if entries == nil {
		entries = []audit.Entry{}
	}
	intact := true
	if err := s.deps.Audit.Verify(); err != nil {
		loggerFrom(r).Error("audit chain verification failed", "error", err)
		intact = false
	}
	writeJSON(w, auditBody{Entries: entries, Intact: intact})
}

type seedBody struct {
	Detail string         `json:"detail"`
	Counts map[string]int `json:"counts"`
}

// handleSeed replaces the data set with the development fixtures. It only
// exists in debug mode.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Debug || s.deps.Seed == nil {
		writeError(w, r, errNotAllowed)
		return
	}
	counts, err := s.deps.Seed(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	loggerFrom(r).Info("development data seeded", "counts", counts)
	writeJSON(w, seedBody{Detail: "Seeded", Counts: counts})
}
