package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is fixed; there is no refresh-token or revocation list.
const TokenTTL = 12 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 identity tokens with one
// process-wide secret.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret is empty")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

// Issue mints a token for the given user fields. The role is copied as is
// and stays in the token until it expires.
func (s *TokenService) Issue(subject, email string, role Role) (string, Identity, error) {
	if subject == "" {
		return "", Identity{}, errors.New("auth: subject is empty")
	}
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(TokenTTL)
	claims := tokenClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Identity{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return ss, Identity{Subject: subject, Email: email, Role: role, IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks signature and expiry. Expired, malformed and forged tokens
// all yield ErrInvalidToken.
func (s *TokenService) Verify(token string) (*Identity, error) {
	var claims tokenClaims
	keyFunc := func(*jwt.Token) (any, error) { return s.secret, nil }
	tok, err := jwt.ParseWithClaims(token, &claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	id := &Identity{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}
