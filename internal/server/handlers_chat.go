package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/chat"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
)

func (s *Server) chatRoutes(kind models.ChatKind) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", s.handleChatGet(kind))
		r.Post("/", s.handleChatPost(kind))
		r.Delete("/", s.handleChatDelete(kind))
	}
}

func (s *Server) handleChatGet(kind models.ChatKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := s.deps.Chat.Get(r.Context(), kind, chi.URLParam(r, "subjectId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, room)
	}
}

// handleChatPost appends the message, broadcasts it to live subscribers and
// returns the updated room, or just the posted message when the room cannot
// be read back.
func (s *Server) handleChatPost(kind models.ChatKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg models.ChatMessage
		if err := decodeJSON(r, &msg); err != nil {
			writeError(w, r, err)
			return
		}
		if id, ok := auth.FromContext(r.Context()); ok && msg.AuthorID == "" {
			msg.AuthorID = id.Subject
		}
		subject := chi.URLParam(r, "subjectId")
		posted, err := s.deps.Chat.Post(r.Context(), kind, subject, msg, chat.SurfaceREST)
		if err != nil {
			writeError(w, r, err)
			return
		}
		room, err := s.deps.Chat.Get(r.Context(), kind, subject)
		if err != nil {
			// The message is stored and delivered; only the room re-read failed.
			loggerFrom(r).Warn("chat room reload failed after post", "subject", subject, "message", posted.ID, "error", err)
			writeJSONStatus(w, http.StatusCreated, posted)
			return
		}
		writeJSONStatus(w, http.StatusCreated, room)
	}
}

func (s *Server) handleChatDelete(kind models.ChatKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.deps.Chat.Delete(r.Context(), kind, chi.URLParam(r, "subjectId"), r.URL.Query().Get("messageId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
