// Package credential owns the user record: lookups, schema rules, password
// hashing before persistence, single-use token minting and the lockout counter.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/helper"
	"github.com/tazhibayda/fanzone-auth/internal/security"
)

const (
	MaxLoginAttempts  = 5
	LockDuration      = time.Hour
	VerificationTTL   = 24 * time.Hour
	PasswordResetTTL  = time.Hour
	MinPasswordLength = 8
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

// UserRepository is the persistence the store needs. Lookups return (nil, nil)
// when nothing matches.
type UserRepository interface {
	FindUserByEmail(ctx context.Context, email string, withPassword bool) (*domain.User, error)
	FindUserByID(ctx context.Context, id string, withPassword bool) (*domain.User, error)
	FindUserByProvider(ctx context.Context, p domain.Provider, providerID, email string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	SaveUser(ctx context.Context, u *domain.User) error
	ClaimUserToken(ctx context.Context, kind domain.TokenKind, hash string, now time.Time) (*domain.User, error)
}

// ValidationError carries a message that is safe to show to the user.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type Store struct {
	repo     UserRepository
	now      func() time.Time
	cost     int
	validate *validator.Validate
	logger   *zap.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithBcryptCost lowers the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option { return func(s *Store) { s.cost = cost } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(repo UserRepository, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		now:      time.Now,
		cost:     security.DefaultCost,
		validate: newValidator(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now is the store's clock; flows use it so that lock windows and token
// expiries are judged against one time source.
func (s *Store) Now() time.Time { return s.now() }

type findOptions struct{ withPassword bool }

type FindOption func(*findOptions)

// IncludePassword opts a lookup into loading the password hash.
func IncludePassword() FindOption { return func(o *findOptions) { o.withPassword = true } }

func apply(opts []FindOption) findOptions {
	var o findOptions
	for _, f := range opts {
		f(&o)
	}
	return o
}

func (s *Store) FindByEmail(ctx context.Context, email string, opts ...FindOption) (*domain.User, error) {
	email = helper.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return s.repo.FindUserByEmail(ctx, email, apply(opts).withPassword)
}

func (s *Store) FindByID(ctx context.Context, id string, opts ...FindOption) (*domain.User, error) {
	if id == "" {
		return nil, nil
	}
	return s.repo.FindUserByID(ctx, id, apply(opts).withPassword)
}

// FindByProvider looks a social identity up by provider id, then by email.
func (s *Store) FindByProvider(ctx context.Context, p domain.Provider, providerID, email string) (*domain.User, error) {
	return s.repo.FindUserByProvider(ctx, p, providerID, helper.NormalizeEmail(email))
}

func (s *Store) Create(ctx context.Context, u *domain.User) error {
	if err := s.PrepareForSave(u); err != nil {
		return err
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return err
	}
	u.ClearPendingPassword()
	return nil
}

func (s *Store) Save(ctx context.Context, u *domain.User) error {
	if err := s.PrepareForSave(u); err != nil {
		return err
	}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return err
	}
	u.ClearPendingPassword()
	return nil
}

type schema struct {
	Email    string `validate:"required,email"`
	Name     string `validate:"required,min=3,max=50"`
	Password string `validate:"omitempty,min=8,bcryptlen"`
}

type passwordRule struct {
	Password string `validate:"required,min=8,bcryptlen"`
}

// newValidator adds "bcryptlen", a byte bound; min counts runes.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxPasswordBytes
	})
	return v
}

// ValidatePassword applies the password rule on its own, for flows that must
// reject a password before spending anything on it.
func (s *Store) ValidatePassword(password string) error {
	if err := s.validate.Struct(passwordRule{Password: password}); err != nil {
		return validationMessage(err)
	}
	return nil
}

// PrepareForSave runs before every write: it normalises and validates the
// record and hashes the password if, and only if, a new plaintext was set.
func (s *Store) PrepareForSave(u *domain.User) error {
	u.Email = helper.NormalizeEmail(u.Email)
	u.Name = strings.TrimSpace(u.Name)
	pending, modified := u.PendingPassword()

	if err := s.validate.Struct(schema{Email: u.Email, Name: u.Name, Password: pending}); err != nil {
		return validationMessage(err)
	}

	now := s.now().UTC()
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if u.AuthProvider == "" {
		u.AuthProvider = domain.ProviderLocal
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
		u.IsActive = true
	}
	u.UpdatedAt = now

	if modified {
		hash, err := security.HashPassword(pending, s.cost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}
	if u.ID.IsZero() && u.PasswordHash == "" {
		return &ValidationError{Msg: "Password is required"}
	}
	return nil
}

func validationMessage(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return &ValidationError{Msg: "Invalid user data"}
	}
	fe := ves[0]
	switch fe.Field() {
	case "Email":
		return &ValidationError{Msg: "Please enter a valid email address"}
	case "Name":
		return &ValidationError{Msg: "Name must be between 3 and 50 characters"}
	case "Password":
		if fe.Tag() == "bcryptlen" {
			return &ValidationError{Msg: fmt.Sprintf("Password must be at most %d bytes", MaxPasswordBytes)}
		}
		return &ValidationError{Msg: fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)}
	}
	return &ValidationError{Msg: "Invalid user data"}
}

// ComparePassword needs a user loaded with IncludePassword.
func (s *Store) ComparePassword(u *domain.User, candidate string) bool {
	return security.CheckPassword(u.PasswordHash, candidate)
}

// GenerateVerificationToken replaces any previous verification token on u and
// returns the plaintext for delivery. The caller persists u.
func (s *Store) GenerateVerificationToken(u *domain.User) (string, error) {
	plain, err := security.NewToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	exp := s.now().Add(VerificationTTL).UTC()
	u.VerificationTokenHash = security.HashToken(plain)
	u.VerificationExpiresAt = &exp
	return plain, nil
}

// GeneratePasswordResetToken is GenerateVerificationToken for the reset flow.
func (s *Store) GeneratePasswordResetToken(u *domain.User) (string, error) {
	plain, err := security.NewToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	exp := s.now().Add(PasswordResetTTL).UTC()
	u.ResetTokenHash = security.HashToken(plain)
	u.ResetExpiresAt = &exp
	return plain, nil
}

// IncrementLoginAttempts records a failed login and reports whether this
// failure locked the account. An expired lock starts a fresh count.
//
// Read-modify-write: two concurrent failures can be counted once.
func (s *Store) IncrementLoginAttempts(ctx context.Context, u *domain.User) (bool, error) {
	now := s.now()
	locked := false
	if u.LockUntil != nil && !u.LockUntil.After(now) {
		u.LoginAttempts = 1
		u.LockUntil = nil
	} else {
		u.LoginAttempts++
		if u.LoginAttempts >= MaxLoginAttempts && !domain.IsLocked(u, now) {
			until := now.Add(LockDuration).UTC()
			u.LockUntil = &until
			locked = true
		}
	}
	if err := s.Save(ctx, u); err != nil {
		return false, fmt.Errorf("save login attempts: %w", err)
	}
	return locked, nil
}

func (s *Store) ResetLoginAttempts(ctx context.Context, u *domain.User) error {
	u.LoginAttempts = 0
	u.LockUntil = nil
	if err := s.Save(ctx, u); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

// ClaimToken redeems a single-use plaintext token of the given kind.
// Returns nil when the token is unknown, already used or expired.
func (s *Store) ClaimToken(ctx context.Context, kind domain.TokenKind, plain string) (*domain.User, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return nil, nil
	}
	u, err := s.repo.ClaimUserToken(ctx, kind, security.HashToken(plain), s.now())
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.logger.Debug("token claim missed", zap.String("purpose", string(kind)))
	}
	return u, nil
}
