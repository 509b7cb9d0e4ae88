// Package session keeps the access/refresh token pair in cookies and resolves
// the acting user of a request from them.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/security"
)

var (
	ErrNoRefreshToken      = errors.New("no refresh token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("session user not found")
)

// UserFinder is satisfied by *credential.Store.
type UserFinder interface {
	FindByID(ctx context.Context, id string, opts ...credential.FindOption) (*domain.User, error)
}

type Manager struct {
	codec   *security.Codec
	users   UserFinder
	preview bool
	logger  *zap.Logger
}

// NewManager builds a session manager. preview relaxes SameSite to None for
// cross-origin preview deployments.
func NewManager(codec *security.Codec, users UserFinder, preview bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{codec: codec, users: users, preview: preview, logger: logger}
}

func PayloadFor(u *domain.User) security.Payload {
	return security.Payload{UserID: u.ID.Hex(), Email: u.Email, Name: u.Name, Role: string(u.Role)}
}

func (m *Manager) cookie(name, value string, ttl time.Duration) Cookie {
	ss := http.SameSiteStrictMode
	if m.preview {
		ss = http.SameSiteNoneMode
	}
	return Cookie{
		Name:     name,
		Value:    value,
		MaxAge:   ttl,
		Path:     "/",
		HTTPOnly: true,
		Secure:   true,
		SameSite: ss,
	}
}

func (m *Manager) setAccess(jar CookieJar, token string) {
	jar.Set(m.cookie(AccessCookie, token, m.codec.AccessTTL()))
}

func (m *Manager) SetAuthCookies(jar CookieJar, access, refresh string) {
	m.setAccess(jar, access)
	jar.Set(m.cookie(RefreshCookie, refresh, m.codec.RefreshTTL()))
}

func (m *Manager) ClearAuthCookies(jar CookieJar) {
	jar.Clear(AccessCookie)
	jar.Clear(RefreshCookie)
}

// Establish issues a fresh token pair for u and writes both cookies.
func (m *Manager) Establish(jar CookieJar, u *domain.User) error {
	access, refresh, err := m.IssuePair(u)
	if err != nil {
		return err
	}
	m.SetAuthCookies(jar, access, refresh)
	return nil
}

func (m *Manager) IssuePair(u *domain.User) (access, refresh string, err error) {
	p := PayloadFor(u)
	if access, err = m.codec.IssueAccessToken(p); err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}
	if refresh, err = m.codec.IssueRefreshToken(p); err != nil {
		return "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return access, refresh, nil
}

func (m *Manager) load(ctx context.Context, id string) (*domain.User, error) {
	u, err := m.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if u == nil || !u.IsActive {
		return nil, nil
	}
	return u, nil
}

// GetCurrentUser resolves the request's user from the access cookie, falling
// back to the refresh cookie. A refresh-only resolution re-sets the access
// cookie. No session is (nil, nil); only store failures are errors.
func (m *Manager) GetCurrentUser(ctx context.Context, jar CookieJar) (*domain.User, error) {
	if tok, ok := jar.Get(AccessCookie); ok {
		if claims, ok := m.codec.Verify(tok); ok && claims.TokenType == security.TokenAccess {
			u, err := m.load(ctx, claims.UserID)
			if err != nil || u != nil {
				return u, err
			}
		}
	}

	tok, ok := jar.Get(RefreshCookie)
	if !ok {
		return nil, nil
	}
	claims, ok := m.codec.Verify(tok)
	if !ok || claims.TokenType != security.TokenRefresh {
		return nil, nil
	}
	u, err := m.load(ctx, claims.UserID)
	if err != nil || u == nil {
		return nil, err
	}
	access, err := m.codec.IssueAccessToken(PayloadFor(u))
	if err != nil {
		m.logger.Error("reissue access token", zap.Error(err))
		return u, nil
	}
	m.setAccess(jar, access)
	return u, nil
}

// RefreshSession rotates on demand: both cookies are re-issued from a valid
// refresh token.
func (m *Manager) RefreshSession(ctx context.Context, jar CookieJar) (*domain.User, error) {
	tok, ok := jar.Get(RefreshCookie)
	if !ok {
		return nil, ErrNoRefreshToken
	}
	claims, ok := m.codec.Verify(tok)
	if !ok || claims.TokenType != security.TokenRefresh {
		return nil, ErrInvalidRefreshToken
	}
	u, err := m.load(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if err := m.Establish(jar, u); err != nil {
		return nil, err
	}
	return u, nil
}
