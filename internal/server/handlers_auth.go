package server

import (
	"net/http"
	"strings"

	"github.com/weintegritywork/weintegrity-ppm/internal/account"
	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if limited(w, r, limitCheck{s.rlLoginIP, ip}) {
		return
	}
	var req account.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if limited(w, r, limitCheck{s.rlLoginID, emailKey(req.Email)}) {
		return
	}
	sess, err := s.deps.Accounts.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if limited(w, r, limitCheck{s.rlRegisterIP, getClientIP(r)}) {
		return
	}
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	plainNumbers(body)
	sess, err := s.deps.Accounts.Register(r.Context(), store.Document(body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, sess)
}

// handleRefresh trades a still-valid token for a fresh one.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	sess, err := s.deps.Accounts.Refresh(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if limited(w, r, limitCheck{s.rlForgotIP, ip}) {
		return
	}
	var req account.ForgotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if limited(w, r, limitCheck{s.rlForgotID, emailKey(req.Email)}) {
		return
	}
	msg, err := s.deps.Accounts.ForgotPassword(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, message{Message: msg})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if limited(w, r, limitCheck{s.rlVerifyIP, getClientIP(r)}) {
		return
	}
	var req account.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if limited(w, r, limitCheck{s.rlVerifyID, emailKey(req.Email)}) {
		return
	}
	msg, err := s.deps.Accounts.VerifyOTP(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, message{Message: msg})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if limited(w, r, limitCheck{s.rlResetIP, getClientIP(r)}) {
		return
	}
	var req account.ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if limited(w, r, limitCheck{s.rlResetID, emailKey(req.Email)}) {
		return
	}
	msg, err := s.deps.Accounts.ResetPassword(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, message{Message: msg})
}
