package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient role")
)

type ctxKey int

const identityKey ctxKey = 1

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the request identity, or false for anonymous callers.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// ErrorWriter renders an auth failure. A nil ErrorWriter falls back to a
// plain-text response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

func (fn ErrorWriter) write(w http.ResponseWriter, r *http.Request, err error, code int) {
	if fn != nil {
		fn(w, r, err)
		return
	}
	http.Error(w, err.Error(), code)
}

// BearerToken extracts the credential of an "Authorization: Bearer" header.
func BearerToken(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// Authenticate attaches the bearer identity to the request context. Requests
// without a bearer credential continue anonymously; a bearer credential that
// fails verification is rejected with 401 right here.
func Authenticate(v TokenVerifier, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				fail.write(w, r, ErrInvalidToken, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireIdentity rejects anonymous callers with 401.
func RequireIdentity(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := FromContext(r.Context()); !ok {
				fail.write(w, r, ErrUnauthenticated, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
