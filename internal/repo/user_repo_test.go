package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/repo"
	"github.com/tazhibayda/fanzone-auth/internal/security"
)

// newMongoStore starts a throwaway mongo:6 container. Docker is required; the
// test is skipped without it.
func newMongoStore(t *testing.T) *repo.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("mongo integration test skipped in -short mode")
	}
	ctx := context.Background()

	mc, err := mongodb.Run(ctx, "mongo:6")
	if err != nil {
		t.Skipf("mongo container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(mc) })

	uri, err := mc.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := repo.NewStore(ctx, uri, "auth_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	require.NoError(t, store.EnsureUserIndexes(ctx))
	return store
}

func newUser(email string) *domain.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.User{
		Email:        email,
		Name:         "Mongo Fan",
		PasswordHash: "$2a$04$notarealhashbutlongenoughtostore",
		Role:         domain.RoleUser,
		AuthProvider: domain.ProviderLocal,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMongoStore_UsersAndProjection(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

	u := newUser("fan@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	require.False(t, u.ID.IsZero())

	assert.ErrorIs(t, s.CreateUser(ctx, newUser("fan@example.com")), domain.ErrEmailTaken)

	plain, err := s.FindUserByEmail(ctx, "fan@example.com", false)
	require.NoError(t, err)
	require.NotNil(t, plain)
	assert.Empty(t, plain.PasswordHash)

	full, err := s.FindUserByID(ctx, u.ID.Hex(), true)
	require.NoError(t, err)
	assert.Equal(t, u.PasswordHash, full.PasswordHash)

	// saving a projected record keeps the stored hash
	plain.Name = "Renamed Fan"
	require.NoError(t, s.SaveUser(ctx, plain))
	full, err = s.FindUserByID(ctx, u.ID.Hex(), true)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Fan", full.Name)
	assert.Equal(t, u.PasswordHash, full.PasswordHash)

	missing, err := s.FindUserByEmail(ctx, "ghost@example.com", false)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMongoStore_FindByProvider(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

	u := newUser("social@example.com")
	u.GoogleID = "g-42"
	require.NoError(t, s.CreateUser(ctx, u))

	byID, err := s.FindUserByProvider(ctx, domain.ProviderGoogle, "g-42", "other@example.com")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, u.ID, byID.ID)

	byEmail, err := s.FindUserByProvider(ctx, domain.ProviderFacebook, "fb-1", "social@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)
}

func TestMongoStore_ClaimUserToken(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("claim@example.com")
	exp := now.Add(time.Hour)
	u.ResetTokenHash = security.HashToken("plain-token")
	u.ResetExpiresAt = &exp
	require.NoError(t, s.CreateUser(ctx, u))

	wrongKind, err := s.ClaimUserToken(ctx, domain.TokenVerification, u.ResetTokenHash, now)
	require.NoError(t, err)
	assert.Nil(t, wrongKind)

	got, err := s.ClaimUserToken(ctx, domain.TokenPasswordReset, u.ResetTokenHash, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Empty(t, got.ResetTokenHash)
	assert.Nil(t, got.ResetExpiresAt)
	assert.Empty(t, got.PasswordHash)

	assert.False(t, got.IsVerified, "a reset claim does not verify")

	again, err := s.ClaimUserToken(ctx, domain.TokenPasswordReset, u.ResetTokenHash, now)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMongoStore_ClaimVerificationMarksVerified(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("verify@example.com")
	exp := now.Add(time.Hour)
	u.VerificationTokenHash = security.HashToken("verify-me")
	u.VerificationExpiresAt = &exp
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.ClaimUserToken(ctx, domain.TokenVerification, u.VerificationTokenHash, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsVerified)

	stored, err := s.FindUserByID(ctx, u.ID.Hex(), false)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Empty(t, stored.VerificationTokenHash)
}

func TestMongoStore_ClaimExpired(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("late@example.com")
	exp := now.Add(-time.Minute)
	u.VerificationTokenHash = security.HashToken("stale")
	u.VerificationExpiresAt = &exp
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.ClaimUserToken(ctx, domain.TokenVerification, u.VerificationTokenHash, now)
	require.NoError(t, err)
	assert.Nil(t, got)
}
