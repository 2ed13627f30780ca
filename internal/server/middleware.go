package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/metrics"
)

type requestInfoKey struct{}

// requestInfo is shared by every layer handling one request. Inner layers
// annotate it; the request logger reads it once the handler returns.
type requestInfo struct {
	logger  *slog.Logger
	subject string
}

func infoFrom(r *http.Request) *requestInfo {
	info, _ := r.Context().Value(requestInfoKey{}).(*requestInfo)
	return info
}

func loggerFrom(r *http.Request) *slog.Logger {
	if info := infoFrom(r); info != nil {
		return info.logger
	}
	return slog.Default()
}

// requestLogger tags the request with an id, exposes a request-scoped logger
// and logs the outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		info := &requestInfo{logger: s.logger.With("request_id", reqID)}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

		sw := metrics.NewStatusWriter(w)
		next.ServeHTTP(sw, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.Status(),
			"duration", time.Since(start),
			"ip", getClientIP(r),
		}
		if info.subject != "" {
			attrs = append(attrs, "subject", info.subject)
		}
		info.logger.Info("request", attrs...)
	})
}

// noteIdentity records the authenticated subject on the request info. It
// runs after auth.Authenticate.
func noteIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := auth.FromContext(r.Context()); ok {
			if info := infoFrom(r); info != nil {
				info.subject = id.Subject
				info.logger = info.logger.With("subject", id.Subject)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// routeLabel reports the matched chi pattern so metric labels stay bounded.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
