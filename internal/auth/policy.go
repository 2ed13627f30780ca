package auth

import (
	"net/http"
)

// Policy gates mutating requests on the caller's role. Safe methods always
// pass. A policy with no allow-set lets any caller write, anonymous included.
type Policy struct {
	name  string
	allow map[Role]struct{}
}

func NewPolicy(name string, roles ...Role) Policy {
	p := Policy{name: name, allow: make(map[Role]struct{}, len(roles))}
	for _, r := range roles {
		p.allow[r] = struct{}{}
	}
	return p
}

var (
	AllowAll            = Policy{name: "allow-all"}
	AdminOnly           = NewPolicy("admin-only", RoleAdmin)
	AdminOrProductOwner = NewPolicy("admin-or-product-owner", RoleAdmin, RoleProductOwner)
)

func (p Policy) Name() string { return p.name }

func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Check returns nil, ErrUnauthenticated for anonymous writes, or
// ErrForbidden for a role outside the allow-set.
func (p Policy) Check(method string, id *Identity) error {
	if IsSafeMethod(method) || p.allow == nil {
		return nil
	}
	if id == nil {
		return ErrUnauthenticated
	}
	if _, ok := p.allow[id.Role]; !ok {
		return ErrForbidden
	}
	return nil
}

// Enforce wraps a handler with Check against the request identity.
func (p Policy) Enforce(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := FromContext(r.Context())
			if err := p.Check(r.Method, id); err != nil {
				code := http.StatusForbidden
				if err == ErrUnauthenticated {
					code = http.StatusUnauthorized
				}
				fail.write(w, r, err, code)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
