package repo

import (
	"context"
	"sync"
	"time"

	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps users in process memory. It backs STORE_DRIVER=memory and
// the service tests, and mirrors the Mongo store's semantics (unique email,
// password projection, atomic token claim).
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[primitive.ObjectID]domain.User
	byEmail map[string]primitive.ObjectID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[primitive.ObjectID]domain.User),
		byEmail: make(map[string]primitive.ObjectID),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func project(u domain.User, withPassword bool) *domain.User {
	if !withPassword {
		u.PasswordHash = ""
	}
	return &u
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string, withPassword bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	return project(m.byID[id], withPassword), nil
}

func (m *MemoryStore) FindUserByID(_ context.Context, id string, withPassword bool) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[oid]
	if !ok {
		return nil, nil
	}
	return project(u, withPassword), nil
}

func (m *MemoryStore) FindUserByProvider(ctx context.Context, p domain.Provider, providerID, email string) (*domain.User, error) {
	if _, err := providerField(p); err != nil {
		return nil, err
	}
	if providerID != "" {
		m.mu.Lock()
		for _, u := range m.byID {
			if u.ProviderID(p) == providerID {
				m.mu.Unlock()
				return project(u, false), nil
			}
		}
		m.mu.Unlock()
	}
	if email == "" {
		return nil, nil
	}
	return m.FindUserByEmail(ctx, email, false)
}

func (m *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return domain.ErrEmailTaken
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	stored := *u
	stored.ClearPendingPassword()
	m.byID[u.ID] = stored
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) SaveUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.byID[u.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if other, taken := m.byEmail[u.Email]; taken && other != u.ID {
		return domain.ErrEmailTaken
	}
	stored := *u
	stored.ClearPendingPassword()
	if stored.PasswordHash == "" {
		stored.PasswordHash = prev.PasswordHash
	}
	if prev.Email != u.Email {
		delete(m.byEmail, prev.Email)
	}
	m.byID[u.ID] = stored
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) ClaimUserToken(_ context.Context, kind domain.TokenKind, hash string, now time.Time) (*domain.User, error) {
	if _, _, err := tokenFields(kind); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.byID {
		switch kind {
		case domain.TokenVerification:
			if u.VerificationTokenHash != hash || u.VerificationExpiresAt == nil || !u.VerificationExpiresAt.After(now) {
				continue
			}
			u.VerificationTokenHash, u.VerificationExpiresAt = "", nil
			u.IsVerified = true
		case domain.TokenPasswordReset:
			if u.ResetTokenHash != hash || u.ResetExpiresAt == nil || !u.ResetExpiresAt.After(now) {
				continue
			}
			u.ResetTokenHash, u.ResetExpiresAt = "", nil
		}
		u.UpdatedAt = now.UTC()
		m.byID[id] = u
		return project(u, false), nil
	}
	return nil, nil
}
