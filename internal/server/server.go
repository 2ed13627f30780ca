// Package server exposes the tracker over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/weintegritywork/weintegrity-ppm/internal/account"
	"github.com/weintegritywork/weintegrity-ppm/internal/audit"
	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/chat"
	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Backend  store.Backend
	Tokens   *auth.TokenService
	Accounts *account.Service
	Chat     *chat.Service
	Engines  []*crud.Engine
	Audit    *audit.Log
	// Seed reloads the development data set; nil disables the endpoint.
	Seed   func(ctx context.Context) (map[string]int, error)
	Logger *slog.Logger
}

type Options struct {
	Addr            string
	AllowedOrigins  []string
	MaxBodyBytes    int64
	Debug           bool
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Addr == "" {
		o.Addr = ":8000"
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 120 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

type Server struct {
	deps   Deps
	opts   Options
	router chi.Router
	logger *slog.Logger

	rlLoginIP    *multiLimiter
	rlLoginID    *multiLimiter
	rlRegisterIP *multiLimiter
	rlForgotIP   *multiLimiter
	rlForgotID   *multiLimiter
	rlVerifyIP   *multiLimiter
	rlVerifyID   *multiLimiter
	rlResetIP    *multiLimiter
	rlResetID    *multiLimiter
}

func New(deps Deps, opts Options) *Server {
	opts.setDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With("component", "http"),
	}

	perWindow := func(n int, window time.Duration) rate.Limit { return rate.Limit(float64(n) / window.Seconds()) }

	s.rlLoginIP = newMultiLimiter(perWindow(10, time.Minute), 10, time.Hour)
	s.rlLoginID = newMultiLimiter(perWindow(5, time.Minute), 5, time.Hour)
	s.rlRegisterIP = newMultiLimiter(perWindow(10, 15*time.Minute), 10, time.Hour)

	s.rlForgotIP = newMultiLimiter(perWindow(5, 15*time.Minute), 5, 30*time.Minute)
	s.rlForgotID = newMultiLimiter(perWindow(3, 15*time.Minute), 3, 30*time.Minute)

	s.rlVerifyIP = newMultiLimiter(perWindow(10, 15*time.Minute), 10, 30*time.Minute)
	s.rlVerifyID = newMultiLimiter(perWindow(5, 15*time.Minute), 5, 30*time.Minute)

	s.rlResetIP = newMultiLimiter(perWindow(10, 15*time.Minute), 10, 30*time.Minute)
	s.rlResetID = newMultiLimiter(perWindow(5, 15*time.Minute), 5, 30*time.Minute)

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic serving request", "path", r.URL.Path, "panic", fmt.Sprint(rec))
			writeError(w, r, errors.New("internal error"))
		}
	}()

	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.router.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s
}

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			w.Header().Add("Vary", "Origin")
		}
	}
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// allowOrigin returns the value for Access-Control-Allow-Origin, or "" when
// the origin is not allowed.
func (s *Server) allowOrigin(origin string) string {
	if slices.Contains(s.opts.AllowedOrigins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.opts.AllowedOrigins, origin) {
		return origin
	}
	return ""
}

// checkOrigin is the WebSocket upgrade origin check. Non-browser clients send
// no Origin and are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.ContainsFunc(s.opts.AllowedOrigins, func(o string) bool {
		return strings.EqualFold(o, origin)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr, "backend", s.deps.Backend.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
