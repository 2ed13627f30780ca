package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/metrics"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
)

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(s.requestLogger)
	r.Use(metrics.HTTP(routeLabel))
	r.Use(s.limitBody)
	r.Use(auth.Authenticate(s.deps.Tokens, writeError))
	r.Use(noteIdentity)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{
			Error:  errorDetail{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"},
			Detail: "method not allowed",
		})
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/chat/{kind}/{subjectId}", s.handleChatWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/register", s.handleRegister)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/forgot-password", s.handleForgotPassword)
			r.Post("/verify-otp", s.handleVerifyOTP)
			r.Post("/reset-password", s.handleResetPassword)
		})

		for _, e := range s.deps.Engines {
			s.mountResource(r, e)
		}

		r.Route("/story-chats/{subjectId}", s.chatRoutes(models.ChatStory))
		r.Route("/project-chats/{subjectId}", s.chatRoutes(models.ChatProject))

		r.Get("/audit", s.handleAudit)
		r.Post("/dev/seed", s.handleSeed)
	})

	s.router = r
}
