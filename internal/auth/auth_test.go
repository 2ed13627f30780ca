package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens(t *testing.T, now time.Time) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret")
	require.NoError(t, err)
	return ts.WithClock(func() time.Time { return now })
}

func TestNewTokenServiceRejectsEmptySecret(t *testing.T) {
	_, err := NewTokenService("")
	require.Error(t, err)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ts := newTestTokens(t, now)

	tok, issued, err := ts.Issue("u-1", "a@example.com", RoleProductOwner)
	require.NoError(t, err)
	assert.Equal(t, now.Add(12*time.Hour), issued.ExpiresAt)

	id, err := ts.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.Subject)
	assert.Equal(t, "a@example.com", id.Email)
	assert.Equal(t, RoleProductOwner, id.Role)
	assert.True(t, id.IssuedAt.Equal(now))
	assert.True(t, id.ExpiresAt.Equal(now.Add(TokenTTL)))
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tok, _, err := newTestTokens(t, now).Issue("u-1", "a@example.com", RoleAdmin)
	require.NoError(t, err)

	later := newTestTokens(t, now.Add(TokenTTL+time.Second))
	_, err = later.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForgedAndMalformed(t *testing.T) {
	now := time.Now()
	tok, _, err := newTestTokens(t, now).Issue("u-1", "a@example.com", RoleAdmin)
	require.NoError(t, err)

	other, err := NewTokenService("another-secret")
	require.NoError(t, err)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = newTestTokens(t, now).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// "none" algorithm must not be accepted.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u-1", "role": "Admin", "exp": now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = newTestTokens(t, now).Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateTwoTier(t *testing.T) {
	ts := newTestTokens(t, time.Now())
	tok, _, err := ts.Issue("u-7", "x@example.com", RoleEmployee)
	require.NoError(t, err)

	var seen *Identity
	h := Authenticate(ts, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name    string
		header  string
		code    int
		subject string
	}{
		{"no header is anonymous", "", http.StatusNoContent, ""},
		{"basic scheme is anonymous", "Basic Zm9vOmJhcg==", http.StatusNoContent, ""},
		{"valid bearer", "Bearer " + tok, http.StatusNoContent, "u-7"},
		{"lowercase scheme", "bearer " + tok, http.StatusNoContent, "u-7"},
		{"bad bearer is rejected", "Bearer garbage", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/teams/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
			if tc.subject == "" {
				assert.Nil(t, seen)
			} else {
				require.NotNil(t, seen)
				assert.Equal(t, tc.subject, seen.Subject)
			}
		})
	}
}

func TestPolicyCheck(t *testing.T) {
	admin := &Identity{Subject: "a", Role: RoleAdmin}
	po := &Identity{Subject: "p", Role: RoleProductOwner}
	emp := &Identity{Subject: "e", Role: RoleEmployee}

	cases := []struct {
		policy Policy
		method string
		id     *Identity
		want   error
	}{
		{AdminOrProductOwner, http.MethodGet, nil, nil},
		{AdminOrProductOwner, http.MethodHead, emp, nil},
		{AdminOrProductOwner, http.MethodOptions, nil, nil},
		{AdminOrProductOwner, http.MethodPut, nil, ErrUnauthenticated},
		{AdminOrProductOwner, http.MethodPut, emp, ErrForbidden},
		{AdminOrProductOwner, http.MethodPut, po, nil},
		{AdminOrProductOwner, http.MethodDelete, admin, nil},
		{AdminOnly, http.MethodPost, po, ErrForbidden},
		{AdminOnly, http.MethodPost, admin, nil},
		{AdminOnly, http.MethodGet, nil, nil},
		{AllowAll, http.MethodPost, nil, nil},
		{AllowAll, http.MethodDelete, emp, nil},
	}
	for _, tc := range cases {
		got := tc.policy.Check(tc.method, tc.id)
		if !errors.Is(got, tc.want) && !(got == nil && tc.want == nil) {
			t.Errorf("%s %s role=%v: got %v want %v", tc.policy.Name(), tc.method, roleOf(tc.id), got, tc.want)
		}
	}
}

func TestPolicyEnforceStatusCodes(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := AdminOrProductOwner.Enforce(nil)(ok)

	req := httptest.NewRequest(http.MethodPut, "/api/projects/p1/", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = req.WithContext(WithIdentity(req.Context(), &Identity{Subject: "e", Role: RoleEmployee}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/api/projects/p1/", nil)
	get = get.WithContext(WithIdentity(get.Context(), &Identity{Subject: "e", Role: RoleEmployee}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func roleOf(id *Identity) Role {
	if id == nil {
		return ""
	}
	return id.Role
}
