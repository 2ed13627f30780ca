// Package account implements the credential flows: login, registration,
// token refresh and the emailed one-time-code password reset.
package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/ids"
	"github.com/weintegritywork/weintegrity-ppm/internal/mail"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

const (
	DefaultOTPTTL     = 10 * time.Minute
	MinPasswordLength = 6

	// ResetRequested is returned for every accepted forgot-password call so
	// the response never reveals whether an account exists.
	ResetRequested = "If an account exists with this email, a reset code has been sent."
)

// Error kinds. Every error returned by Service wraps one of them, or is a
// storage failure.
var (
	ErrInvalid     = errors.New("account: invalid request")
	ErrCredentials = errors.New("account: invalid credentials")
	ErrInactive    = errors.New("account: deactivated")
	ErrConflict    = errors.New("account: already registered")
	ErrNotFound    = errors.New("account: user not found")
)

// Error carries a message that is safe to show to the client.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func fail(kind error, msg string) error { return &Error{Kind: kind, Message: msg} }

// RegisterFields must all be present on a registration request.
var RegisterFields = []string{
	"id", "employeeId", "firstName", "lastName", "email", "phone",
	"role", "department", "jobTitle", "dateOfJoining", "password", "status",
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ForgotRequest struct {
	Email string `json:"email" validate:"required"`
}

type VerifyRequest struct {
	Email string `json:"email" validate:"required"`
	OTP   string `json:"otp" validate:"required"`
}

type ResetRequest struct {
	Email       string `json:"email" validate:"required"`
	OTP         string `json:"otp" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// Session is the token response. User is omitted on refresh.
type Session struct {
	Access string         `json:"access"`
	User   store.Document `json:"user,omitempty"`
}

type Options struct {
	Argon  auth.ArgonParams
	OTPTTL time.Duration
	// Debug logs generated reset codes.
	Debug bool
}

type Service struct {
	users    store.Collection
	resets   store.Collection
	register *crud.Engine
	tokens   *auth.TokenService
	mailer   mail.Mailer
	audit    crud.Auditor
	validate *validator.Validate
	argon    auth.ArgonParams
	otpTTL   time.Duration
	debug    bool
	logger   *slog.Logger
	now      func() time.Time
}

func New(b store.Backend, tokens *auth.TokenService, mailer mail.Mailer, audit crud.Auditor, logger *slog.Logger, opts Options) *Service {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = DefaultOTPTTL
	}
	if opts.Argon == (auth.ArgonParams{}) {
		opts.Argon = auth.DefaultArgon
	}
	if mailer == nil {
		mailer = mail.Noop{}
	}
	return &Service{
		users:    b.Collection(models.Users),
		resets:   b.Collection(models.PasswordResets),
		register: crud.New(b, crud.Users(opts.Argon), audit),
		tokens:   tokens,
		mailer:   mailer,
		audit:    audit,
		validate: validator.New(),
		argon:    opts.Argon,
		otpTTL:   opts.OTPTTL,
		debug:    opts.Debug,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for reset-code expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Indexes lists the indexes the account flows rely on.
func Indexes() []store.Index {
	return []store.Index{
		{Collection: models.Users, Field: "email", Unique: true},
		{Collection: models.Users, Field: "employeeId", Unique: true},
		{Collection: models.PasswordResets, Field: "email"},
		{Collection: models.PasswordResets, Field: "expiresAt", ExpireAt: true},
	}
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return Session{}, fail(ErrInvalid, "email and password required")
	}
	doc, err := s.users.FindOne(ctx, store.Filter{"email": req.Email})
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, fail(ErrCredentials, "Invalid credentials")
	}
	if err != nil {
		return Session{}, fmt.Errorf("account: login lookup: %w", err)
	}
	user := models.UserFromDocument(doc)
	if user.Inactive() {
		return Session{}, fail(ErrInactive, "Your account has been deactivated. Please contact an administrator.")
	}
	if !auth.CheckCredential(req.Password, user.Password) {
		return Session{}, fail(ErrCredentials, "Invalid credentials")
	}
	s.upgradeHash(ctx, user, req.Password)

	token, _, err := s.tokens.Issue(user.ID, user.Email, auth.Role(user.Role))
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, "account.login", user.ID)
	return Session{Access: token, User: redact(doc)}, nil
}

// upgradeHash re-hashes legacy plaintext and pbkdf2 credentials with argon2id
// after a successful login. Failure leaves the old credential in place.
func (s *Service) upgradeHash(ctx context.Context, user models.User, password string) {
	if strings.HasPrefix(user.Password, "argon2id$") {
		return
	}
	hash, err := auth.HashPassword(s.argon, password)
	if err == nil {
		err = s.users.Update(ctx, store.Filter{"id": user.ID}, store.Document{"password": hash})
	}
	if err != nil {
		s.logger.Warn("credential upgrade failed", "user", user.ID, "error", err)
	}
}

// Register creates a user from the full field set and logs them in.
func (s *Service) Register(ctx context.Context, doc store.Document) (Session, error) {
	var missing []string
	for _, f := range RegisterFields {
		if _, ok := doc[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Session{}, fail(ErrInvalid, "Missing fields: "+strings.Join(missing, ", "))
	}
	email, _ := doc["email"].(string)
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return Session{}, fail(ErrInvalid, "Invalid email address")
	}
	if pw, _ := doc["password"].(string); pw == "" {
		return Session{}, fail(ErrInvalid, "Password is required")
	}

	_, err := s.users.FindOne(ctx, store.Filter{"email": email})
	switch {
	case err == nil:
		return Session{}, fail(ErrConflict, "Email already registered")
	case !errors.Is(err, store.ErrNotFound):
		return Session{}, fmt.Errorf("account: register lookup: %w", err)
	}

	created, err := s.register.Create(ctx, doc)
	switch {
	case errors.Is(err, crud.ErrInvalid):
		return Session{}, fail(ErrInvalid, "User id is required")
	case errors.Is(err, crud.ErrConflict):
		return Session{}, fail(ErrConflict, "User already exists")
	case err != nil:
		return Session{}, err
	}
	user := models.UserFromDocument(created)
	token, _, err := s.tokens.Issue(user.ID, user.Email, auth.Role(user.Role))
	if err != nil {
		return Session{}, err
	}
	return Session{Access: token, User: created}, nil
}

// Refresh issues a fresh token for a still-existing, active user.
func (s *Service) Refresh(ctx context.Context, id *auth.Identity) (Session, error) {
	if id == nil {
		return Session{}, auth.ErrUnauthenticated
	}
	doc, err := s.users.FindOne(ctx, store.Filter{"id": id.Subject})
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, fail(ErrCredentials, "User not found")
	}
	if err != nil {
		return Session{}, fmt.Errorf("account: refresh lookup: %w", err)
	}
	user := models.UserFromDocument(doc)
	if user.Inactive() {
		return Session{}, fail(ErrInactive, "Your account has been deactivated. Please contact an administrator.")
	}
	token, _, err := s.tokens.Issue(user.ID, user.Email, auth.Role(user.Role))
	if err != nil {
		return Session{}, err
	}
	return Session{Access: token}, nil
}

// ForgotPassword replaces any pending reset code for the email with a fresh
// one and mails it. Unknown emails get the same answer as known ones; mail
// delivery problems are logged only.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotRequest) (string, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return "", fail(ErrInvalid, "Email is required")
	}
	doc, err := s.users.FindOne(ctx, store.Filter{"email": req.Email})
	if errors.Is(err, store.ErrNotFound) {
		return ResetRequested, nil
	}
	if err != nil {
		return "", fmt.Errorf("account: forgot lookup: %w", err)
	}
	if doc.StringField("status") == models.StatusInactive {
		return "", fail(ErrInvalid, "Account is inactive")
	}

	code, err := newOTP()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	expires := now.Add(s.otpTTL)
	if _, err := s.resets.DeleteMany(ctx, store.Filter{"email": req.Email}); err != nil {
		return "", fmt.Errorf("account: clear reset codes: %w", err)
	}
	err = s.resets.Insert(ctx, store.Document{
		"id":        ids.NewAt(now),
		"email":     req.Email,
		"otp":       code,
		"expiresAt": expires,
		"createdAt": now,
	})
	if err != nil {
		return "", fmt.Errorf("account: store reset code: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, req.Email, code, expires); err != nil {
		s.logger.Error("reset code not delivered", "email", mail.Mask(req.Email), "error", err)
	}
	if s.debug {
		s.logger.Info("password reset code issued", "email", req.Email, "otp", code)
	}
	s.record(ctx, "account.forgot", req.Email)
	return ResetRequested, nil
}

func (s *Service) VerifyOTP(ctx context.Context, req VerifyRequest) (string, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return "", fail(ErrInvalid, "Email and OTP are required")
	}
	if _, err := s.pendingReset(ctx, req.Email, req.OTP, "Invalid OTP"); err != nil {
		return "", err
	}
	return "OTP verified successfully", nil
}

func (s *Service) ResetPassword(ctx context.Context, req ResetRequest) (string, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return "", fail(ErrInvalid, "Email, OTP, and new password are required")
	}
	if err := s.validate.Var(req.NewPassword, fmt.Sprintf("min=%d", MinPasswordLength)); err != nil {
		return "", fail(ErrInvalid, fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}
	rec, err := s.pendingReset(ctx, req.Email, req.OTP, "Invalid or expired OTP")
	if err != nil {
		return "", err
	}

	doc, err := s.users.FindOne(ctx, store.Filter{"email": req.Email})
	if errors.Is(err, store.ErrNotFound) {
		s.consume(ctx, rec)
		return "", fail(ErrNotFound, "User not found")
	}
	if err != nil {
		return "", fmt.Errorf("account: reset lookup: %w", err)
	}
	hash, err := auth.HashPassword(s.argon, req.NewPassword)
	if err != nil {
		return "", err
	}
	userID := doc.StringField("id")
	if err := s.users.Update(ctx, store.Filter{"id": userID}, store.Document{"password": hash}); err != nil {
		return "", fmt.Errorf("account: store new password: %w", err)
	}
	s.consume(ctx, rec)
	s.record(ctx, "account.reset", userID)
	return "Password has been reset successfully", nil
}

// pendingReset finds the unexpired reset record for email and code. An
// expired record is deleted.
func (s *Service) pendingReset(ctx context.Context, email, code, missing string) (store.Document, error) {
	rec, err := s.resets.FindOne(ctx, store.Filter{"email": email, "otp": code})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail(ErrInvalid, missing)
	}
	if err != nil {
		return nil, fmt.Errorf("account: reset code lookup: %w", err)
	}
	if !s.now().Before(expiry(rec)) {
		s.consume(ctx, rec)
		return nil, fail(ErrInvalid, "OTP has expired. Please request a new one.")
	}
	return rec, nil
}

func (s *Service) consume(ctx context.Context, rec store.Document) {
	f := store.Filter{"email": rec.StringField("email"), "otp": rec.StringField("otp")}
	if err := s.resets.Delete(ctx, f); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("reset code not removed", "email", mail.Mask(rec.StringField("email")), "error", err)
	}
}

func (s *Service) record(ctx context.Context, action, target string) {
	if s.audit != nil {
		s.audit.Record(ctx, action, target)
	}
}

// expiry reads expiresAt; anything unreadable counts as already expired.
func expiry(rec store.Document) time.Time {
	switch v := rec["expiresAt"].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// newOTP returns a uniformly drawn six-digit code.
func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900_000))
	if err != nil {
		return "", fmt.Errorf("account: reset code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100_000), nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func redact(doc store.Document) store.Document {
	out := store.Clone(doc)
	delete(out, "password")
	delete(out, "_id")
	return out
}
