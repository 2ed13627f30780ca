package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
	"github.com/weintegritywork/weintegrity-ppm/internal/store/memstore"
)

var cheapArgon = auth.ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

type outbox struct {
	mu   sync.Mutex
	last map[string]string
	err  error
}

func (o *outbox) SendOTP(_ context.Context, to, code string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		o.last = map[string]string{}
	}
	o.last[to] = code
	return o.err
}

func (o *outbox) Enabled() bool { return true }

func (o *outbox) code(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[to]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	svc    *Service
	b      *memstore.Backend
	tokens *auth.TokenService
	mail   *outbox
	clock  *clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	b := memstore.New()
	ctx := context.Background()
	require.NoError(t, b.EnsureIndexes(ctx, append(Indexes(), store.Index{Collection: models.Users, Field: "id", Unique: true})))
	tokens, err := auth.NewTokenService("test-secret")
	require.NoError(t, err)
	box := &outbox{}
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(b, tokens, box, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{Argon: cheapArgon}).WithClock(c.now)

	users := b.Collection(models.Users)
	require.NoError(t, users.Insert(ctx, store.Document{
		"id": "u1", "email": "ann@example.com", "firstName": "Ann", "lastName": "Lee",
		"role": "Employee", "status": "active", "password": "plain-secret",
	}))
	require.NoError(t, users.Insert(ctx, store.Document{
		"id": "u2", "email": "gone@example.com", "role": "Employee", "status": "inactive", "password": "whatever",
	}))
	return fixture{svc: svc, b: b, tokens: tokens, mail: box, clock: c}
}

func kindOf(t *testing.T, err error, kind error, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	var pub *Error
	require.True(t, errors.As(err, &pub))
	assert.Equal(t, msg, pub.Message)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, LoginRequest{Email: " ANN@example.com", Password: "plain-secret"})
	require.NoError(t, err)
	assert.NotContains(t, sess.User, "password")
	assert.Equal(t, "u1", sess.User["id"])
	id, err := f.tokens.Verify(sess.Access)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Subject)
	assert.Equal(t, auth.RoleEmployee, id.Role)

	// the legacy plaintext credential was upgraded and still works
	doc, err := f.b.Collection(models.Users).FindOne(ctx, store.Filter{"id": "u1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.StringField("password"), "argon2id$"))
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ann@example.com", Password: "plain-secret"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "ann@example.com", Password: "nope"})
	kindOf(t, err, ErrCredentials, "Invalid credentials")
	_, err = f.svc.Login(ctx, LoginRequest{Email: "who@example.com", Password: "x"})
	kindOf(t, err, ErrCredentials, "Invalid credentials")
	_, err = f.svc.Login(ctx, LoginRequest{Email: "gone@example.com", Password: "whatever"})
	kindOf(t, err, ErrInactive, "Your account has been deactivated. Please contact an administrator.")
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ann@example.com"})
	kindOf(t, err, ErrInvalid, "email and password required")
}

func registration() store.Document {
	return store.Document{
		"id": "u9", "employeeId": "E9", "firstName": "Bo", "lastName": "Kim",
		"email": "Bo@Example.com", "phone": "1", "role": "ProductOwner", "department": "R&D",
		"jobTitle": "PO", "dateOfJoining": "2025-01-01", "password": "hunter22", "status": "active",
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Register(ctx, registration())
	require.NoError(t, err)
	assert.Equal(t, "bo@example.com", sess.User["email"])
	assert.NotContains(t, sess.User, "password")
	id, err := f.tokens.Verify(sess.Access)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleProductOwner, id.Role)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "bo@example.com", Password: "hunter22"})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, registration())
	kindOf(t, err, ErrConflict, "Email already registered")

	dupID := registration()
	dupID["email"] = "other@example.com"
	_, err = f.svc.Register(ctx, dupID)
	kindOf(t, err, ErrConflict, "User already exists")

	partial := registration()
	delete(partial, "phone")
	delete(partial, "status")
	_, err = f.svc.Register(ctx, partial)
	kindOf(t, err, ErrInvalid, "Missing fields: phone, status")
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, nil)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	sess, err := f.svc.Refresh(ctx, &auth.Identity{Subject: "u1"})
	require.NoError(t, err)
	assert.Nil(t, sess.User)
	_, err = f.tokens.Verify(sess.Access)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, &auth.Identity{Subject: "deleted"})
	kindOf(t, err, ErrCredentials, "User not found")
	_, err = f.svc.Refresh(ctx, &auth.Identity{Subject: "u2"})
	assert.ErrorIs(t, err, ErrInactive)
}

func TestForgotDoesNotRevealAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.ForgotPassword(ctx, ForgotRequest{Email: "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, ResetRequested, msg)
	assert.Empty(t, f.mail.code("nobody@example.com"))

	f.mail.err = errors.New("smtp down")
	msg, err = f.svc.ForgotPassword(ctx, ForgotRequest{Email: "ann@example.com"})
	require.NoError(t, err, "delivery failure is not surfaced")
	assert.Equal(t, ResetRequested, msg)
	assert.Len(t, f.mail.code("ann@example.com"), 6)

	_, err = f.svc.ForgotPassword(ctx, ForgotRequest{Email: "gone@example.com"})
	kindOf(t, err, ErrInvalid, "Account is inactive")
	_, err = f.svc.ForgotPassword(ctx, ForgotRequest{})
	kindOf(t, err, ErrInvalid, "Email is required")
}

func TestResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ForgotPassword(ctx, ForgotRequest{Email: "ann@example.com"})
	require.NoError(t, err)
	first := f.mail.code("ann@example.com")
	_, err = f.svc.ForgotPassword(ctx, ForgotRequest{Email: "ann@example.com"})
	require.NoError(t, err)
	code := f.mail.code("ann@example.com")

	pending, err := f.b.Collection(models.PasswordResets).Find(ctx, store.Filter{"email": "ann@example.com"}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, pending, 1, "a new request replaces the old code")
	if first != code {
		_, err = f.svc.VerifyOTP(ctx, VerifyRequest{Email: "ann@example.com", OTP: first})
		kindOf(t, err, ErrInvalid, "Invalid OTP")
	}

	msg, err := f.svc.VerifyOTP(ctx, VerifyRequest{Email: "ann@example.com", OTP: code})
	require.NoError(t, err)
	assert.Equal(t, "OTP verified successfully", msg)

	_, err = f.svc.ResetPassword(ctx, ResetRequest{Email: "ann@example.com", OTP: code, NewPassword: "short"})
	kindOf(t, err, ErrInvalid, "Password must be at least 6 characters long")

	msg, err = f.svc.ResetPassword(ctx, ResetRequest{Email: "ann@example.com", OTP: code, NewPassword: "brand-new"})
	require.NoError(t, err)
	assert.Equal(t, "Password has been reset successfully", msg)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "ann@example.com", Password: "brand-new"})
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ann@example.com", Password: "plain-secret"})
	assert.ErrorIs(t, err, ErrCredentials)

	_, err = f.svc.ResetPassword(ctx, ResetRequest{Email: "ann@example.com", OTP: code, NewPassword: "again-new"})
	kindOf(t, err, ErrInvalid, "Invalid or expired OTP")
}

func TestExpiredCodeIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ForgotPassword(ctx, ForgotRequest{Email: "ann@example.com"})
	require.NoError(t, err)
	code := f.mail.code("ann@example.com")

	f.clock.t = f.clock.t.Add(11 * time.Minute)
	_, err = f.svc.VerifyOTP(ctx, VerifyRequest{Email: "ann@example.com", OTP: code})
	kindOf(t, err, ErrInvalid, "OTP has expired. Please request a new one.")

	left, err := f.b.Collection(models.PasswordResets).Find(ctx, store.Filter{}, store.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = f.svc.VerifyOTP(ctx, VerifyRequest{Email: "ann@example.com", OTP: code})
	kindOf(t, err, ErrInvalid, "Invalid OTP")
}

func TestOTPShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := newOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
	}
}

func TestLooselyTypedUserStillLogsIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := registration()
	doc["phone"] = float64(5551234)
	doc["employeeId"] = float64(9)
	sess, err := f.svc.Register(ctx, doc)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Access)

	sess, err = f.svc.Login(ctx, LoginRequest{Email: "bo@example.com", Password: "hunter22"})
	require.NoError(t, err)
	id, err := f.tokens.Verify(sess.Access)
	require.NoError(t, err)
	assert.Equal(t, "u9", id.Subject)
	assert.Equal(t, auth.RoleProductOwner, id.Role)

	_, err = f.svc.Refresh(ctx, id)
	require.NoError(t, err)
}
