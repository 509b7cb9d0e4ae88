package credential_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/repo"
	"github.com/tazhibayda/fanzone-auth/internal/security"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore(t *testing.T) (*credential.Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return credential.NewStore(repo.NewMemoryStore(),
		credential.WithClock(c.Now),
		credential.WithBcryptCost(bcrypt.MinCost),
	), c
}

func createUser(t *testing.T, s *credential.Store, email string) *domain.User {
	t.Helper()
	u := &domain.User{Email: email, Name: "Alice"}
	u.SetPassword("password1")
	require.NoError(t, s.Create(context.Background(), u))
	return u
}

func TestCreate_HashesAndDefaults(t *testing.T) {
	s, c := newStore(t)
	u := createUser(t, s, "  Alice@Example.com ")

	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.Equal(t, domain.ProviderLocal, u.AuthProvider)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsVerified)
	assert.Equal(t, c.Now(), u.CreatedAt)
	assert.NotEqual(t, "password1", u.PasswordHash)
	_, pending := u.PendingPassword()
	assert.False(t, pending)
}

func TestFind_ExcludesPasswordByDefault(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	created := createUser(t, s, "alice@example.com")

	u, err := s.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Empty(t, u.PasswordHash)

	u, err = s.FindByID(ctx, created.ID.Hex(), credential.IncludePassword())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, s.ComparePassword(u, "password1"))
	assert.False(t, s.ComparePassword(u, "password2"))

	missing, err := s.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSave_DoesNotRehashUnchangedPassword(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "alice@example.com")
	hash := u.PasswordHash

	u.Name = "Alice Cooper"
	require.NoError(t, s.Save(ctx, u))
	assert.Equal(t, hash, u.PasswordHash)

	// a lookup without the hash must not wipe it on save
	loaded, err := s.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	loaded.Name = "Alice C"
	require.NoError(t, s.Save(ctx, loaded))

	withPw, err := s.FindByEmail(ctx, "alice@example.com", credential.IncludePassword())
	require.NoError(t, err)
	assert.Equal(t, hash, withPw.PasswordHash)

	withPw.SetPassword("newpassword")
	require.NoError(t, s.Save(ctx, withPw))
	assert.NotEqual(t, hash, withPw.PasswordHash)
	assert.True(t, s.ComparePassword(withPw, "newpassword"))
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	cases := []struct {
		name string
		user func() *domain.User
		msg  string
	}{
		{"bad email", func() *domain.User {
			u := &domain.User{Email: "not-an-email", Name: "Alice"}
			u.SetPassword("password1")
			return u
		}, "Please enter a valid email address"},
		{"short name", func() *domain.User {
			u := &domain.User{Email: "a@example.com", Name: "Al"}
			u.SetPassword("password1")
			return u
		}, "Name must be between 3 and 50 characters"},
		{"short password", func() *domain.User {
			u := &domain.User{Email: "a@example.com", Name: "Alice"}
			u.SetPassword("short")
			return u
		}, "Password must be at least 8 characters"},
		{"long password", func() *domain.User {
			u := &domain.User{Email: "a@example.com", Name: "Alice"}
			u.SetPassword(strings.Repeat("x", 80))
			return u
		}, "Password must be at most 72 bytes"},
		{"no password", func() *domain.User {
			return &domain.User{Email: "a@example.com", Name: "Alice"}
		}, "Password is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Create(ctx, tc.user())
			require.Error(t, err)
			assert.True(t, credential.IsValidation(err))
			assert.Equal(t, tc.msg, err.Error())
		})
	}
}

func TestValidatePassword(t *testing.T) {
	s, _ := newStore(t)

	assert.NoError(t, s.ValidatePassword("password1"))
	assert.NoError(t, s.ValidatePassword("пароль-надёжный"))
	assert.NoError(t, s.ValidatePassword(strings.Repeat("x", credential.MaxPasswordBytes)))

	tooShort := "Password must be at least 8 characters"
	tooLong := "Password must be at most 72 bytes"
	cases := []struct{ pw, msg string }{
		{"", tooShort},
		{"short", tooShort},
		{"ПАРО", tooShort}, // 8 bytes, 4 runes
		{strings.Repeat("x", 73), tooLong},
		{strings.Repeat("ж", 40), tooLong}, // 40 runes, 80 bytes
	}
	for _, tc := range cases {
		err := s.ValidatePassword(tc.pw)
		require.Error(t, err, "%q", tc.pw)
		assert.True(t, credential.IsValidation(err))
		assert.Equal(t, tc.msg, err.Error())
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	s, _ := newStore(t)
	createUser(t, s, "alice@example.com")

	dup := &domain.User{Email: "Alice@example.com", Name: "Other"}
	dup.SetPassword("password1")
	err := s.Create(context.Background(), dup)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestIncrementLoginAttempts_LocksAtThreshold(t *testing.T) {
	s, c := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "alice@example.com")

	for i := 1; i < credential.MaxLoginAttempts; i++ {
		locked, err := s.IncrementLoginAttempts(ctx, u)
		require.NoError(t, err)
		assert.False(t, locked)
		assert.Equal(t, i, u.LoginAttempts)
	}
	locked, err := s.IncrementLoginAttempts(ctx, u)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.True(t, domain.IsLocked(u, c.Now()))
	assert.Equal(t, c.Now().Add(credential.LockDuration), *u.LockUntil)

	// further failures while locked keep the original window
	until := *u.LockUntil
	c.Advance(time.Minute)
	locked, err = s.IncrementLoginAttempts(ctx, u)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, until, *u.LockUntil)

	// once the lock has expired the count restarts
	c.Advance(credential.LockDuration)
	assert.False(t, domain.IsLocked(u, c.Now()))
	locked, err = s.IncrementLoginAttempts(ctx, u)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 1, u.LoginAttempts)
	assert.Nil(t, u.LockUntil)

	require.NoError(t, s.ResetLoginAttempts(ctx, u))
	stored, err := s.FindByID(ctx, u.ID.Hex())
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
}

func TestTokens_HashedAndSingleUse(t *testing.T) {
	s, c := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "alice@example.com")

	plain, err := s.GenerateVerificationToken(u)
	require.NoError(t, err)
	assert.NotEqual(t, plain, u.VerificationTokenHash)
	assert.Equal(t, security.HashToken(plain), u.VerificationTokenHash)
	assert.Equal(t, c.Now().Add(credential.VerificationTTL), *u.VerificationExpiresAt)
	require.NoError(t, s.Save(ctx, u))

	// a reset token is a different purpose
	got, err := s.ClaimToken(ctx, domain.TokenPasswordReset, plain)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.ClaimToken(ctx, domain.TokenVerification, plain)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Empty(t, got.VerificationTokenHash)

	again, err := s.ClaimToken(ctx, domain.TokenVerification, plain)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTokens_NewTokenReplacesOld(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "alice@example.com")

	first, err := s.GeneratePasswordResetToken(u)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, u))
	second, err := s.GeneratePasswordResetToken(u)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, u))

	got, err := s.ClaimToken(ctx, domain.TokenPasswordReset, first)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.ClaimToken(ctx, domain.TokenPasswordReset, second)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestTokens_Expire(t *testing.T) {
	s, c := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "alice@example.com")

	plain, err := s.GeneratePasswordResetToken(u)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, u))

	c.Advance(credential.PasswordResetTTL + time.Second)
	got, err := s.ClaimToken(ctx, domain.TokenPasswordReset, plain)
	require.NoError(t, err)
	assert.Nil(t, got)
}
