// Package oauth drives the Google and Facebook authorization-code flows and
// maps the provider identity onto a local account.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/helper"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/metrics"
	"github.com/tazhibayda/fanzone-auth/internal/queue"
	"github.com/tazhibayda/fanzone-auth/internal/security"
	"github.com/tazhibayda/fanzone-auth/internal/session"
)

const (
	GoogleProfileURL   = "https://openidconnect.googleapis.com/v1/userinfo"
	FacebookProfileURL = "https://graph.facebook.com/v19.0/me?fields=id,name,email,picture.type(large)"
)

var (
	ErrUnknownProvider  = errors.New("unknown or unconfigured provider")
	ErrAccountDisabled  = errors.New("account is deactivated")
	ErrIdentityConflict = errors.New("email is linked to a different provider account")
	ErrUnverifiedEmail  = errors.New("provider has not verified the email of an existing account")
)

// ProviderConfig describes one identity provider. Endpoint and ProfileURL
// default to the public provider values.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	ProfileURL   string
}

func (p ProviderConfig) enabled() bool { return p.ClientID != "" && p.ClientSecret != "" }

type Config struct {
	Google   ProviderConfig
	Facebook ProviderConfig
}

type provider struct {
	oauth      *oauth2.Config
	profileURL string
}

type Service struct {
	providers map[domain.Provider]*provider
	store     *credential.Store
	sessions  *session.Manager
	client    *http.Client
	pub       queue.Publisher
	logger    *zap.Logger
}

type Option func(*Service)

// WithHTTPClient routes token exchange and profile calls through c.
func WithHTTPClient(c *http.Client) Option { return func(s *Service) { s.client = c } }

func WithPublisher(p queue.Publisher) Option { return func(s *Service) { s.pub = p } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = log.OrNop(l) } }

func NewService(cfg Config, store *credential.Store, sessions *session.Manager, opts ...Option) *Service {
	s := &Service{
		providers: map[domain.Provider]*provider{},
		store:     store,
		sessions:  sessions,
		pub:       queue.NewNoop(),
		logger:    zap.NewNop(),
	}
	if cfg.Google.enabled() {
		s.providers[domain.ProviderGoogle] = newProvider(cfg.Google, google.Endpoint, GoogleProfileURL,
			[]string{"openid", "email", "profile"})
	}
	if cfg.Facebook.enabled() {
		s.providers[domain.ProviderFacebook] = newProvider(cfg.Facebook, facebook.Endpoint, FacebookProfileURL,
			[]string{"email", "public_profile"})
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newProvider(pc ProviderConfig, endpoint oauth2.Endpoint, profileURL string, scopes []string) *provider {
	if pc.Endpoint.AuthURL != "" {
		endpoint = pc.Endpoint
	}
	if pc.ProfileURL != "" {
		profileURL = pc.ProfileURL
	}
	return &provider{
		oauth: &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		profileURL: profileURL,
	}
}

// ParseProvider accepts only social providers.
func ParseProvider(name string) (domain.Provider, bool) {
	p := domain.Provider(name)
	return p, p.Social()
}

// Providers lists the configured providers.
func (s *Service) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(s.providers))
	for p := range s.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Service) provider(p domain.Provider) (*provider, error) {
	pr, ok := s.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return pr, nil
}

// AuthorizationURL is where the browser is sent to sign in with p.
func (s *Service) AuthorizationURL(p domain.Provider, state string) (string, error) {
	pr, err := s.provider(p)
	if err != nil {
		return "", err
	}
	return pr.oauth.AuthCodeURL(state), nil
}

type CallbackResult struct {
	User         *domain.User
	NewUser      bool
	Linked       bool
	AccessToken  string
	RefreshToken string
}

func (s *Service) clientCtx(ctx context.Context) context.Context {
	if s.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

// HandleCallback exchanges code, fetches the profile, and resolves it to a
// local account, creating or linking as needed. Calls are not retried.
func (s *Service) HandleCallback(ctx context.Context, p domain.Provider, code string) (res *CallbackResult, err error) {
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.NewUser:
			outcome = "created"
		case res.Linked:
			outcome = "linked"
		}
		metrics.OAuthCallbacks.WithLabelValues(string(p), outcome).Inc()
	}()

	pr, err := s.provider(p)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, errors.New("missing authorization code")
	}

	id, err := s.fetchIdentity(s.clientCtx(ctx), p, pr, code)
	if err != nil {
		return nil, err
	}
	u, created, linked, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	access, refresh, err := s.sessions.IssuePair(u)
	if err != nil {
		return nil, err
	}

	reqID := helper.RequestID(ctx)
	if created || linked {
		queue.Emit(ctx, s.pub, s.logger, queue.KeyUserSocialLinked, queue.UserSocialLinked{
			UserID: u.ID.Hex(), Email: u.Email, Name: u.Name, Provider: string(p), NewUser: created,
		}, reqID)
	}
	queue.Emit(ctx, s.pub, s.logger, queue.KeyUserLoggedIn,
		queue.UserLoggedIn{UserID: u.ID.Hex(), Email: u.Email, Provider: string(p)}, reqID)

	return &CallbackResult{User: u, NewUser: created, Linked: linked, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) fetchIdentity(ctx context.Context, p domain.Provider, pr *provider, code string) (Identity, error) {
	tok, err := pr.oauth.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("token exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pr.profileURL, nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := pr.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch %s profile: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%s profile returned status %d", p, resp.StatusCode)
	}

	id, err := decodeProfile(p, resp.Body)
	if err != nil {
		return Identity{}, err
	}
	if p == domain.ProviderGoogle {
		if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
			if err := checkIDToken(raw, pr.oauth.ClientID, id); err != nil {
				return Identity{}, err
			}
		}
	}
	return id, nil
}

// resolve finds the account for id by provider id or email. New accounts get
// an unguessable local password and are pre-verified. Existing accounts
// without this provider are linked, but only on a provider-verified email;
// other provider ids on the record stay.
func (s *Service) resolve(ctx context.Context, id Identity) (u *domain.User, created, linked bool, err error) {
	lg := log.WithDD(ctx, s.logger, zap.String("provider", string(id.Provider)), zap.String("email_hash", helper.Hash8(id.Email)))

	u, err = s.store.FindByProvider(ctx, id.Provider, id.ID, id.Email)
	if err != nil {
		return nil, false, false, fmt.Errorf("lookup social user: %w", err)
	}
	if u == nil {
		u, err = s.create(ctx, id)
		switch {
		case err == nil:
			lg.Info("social account created", zap.String("user_id", u.ID.Hex()))
			return u, true, false, nil
		case !errors.Is(err, domain.ErrEmailTaken):
			return nil, false, false, err
		}
		// lost a race with a concurrent callback or registration
		if u, err = s.store.FindByProvider(ctx, id.Provider, id.ID, id.Email); err != nil || u == nil {
			return nil, false, false, fmt.Errorf("lookup social user after conflict: %w", errors.Join(err, domain.ErrEmailTaken))
		}
	}

	if !u.IsActive {
		return nil, false, false, ErrAccountDisabled
	}
	switch existing := u.ProviderID(id.Provider); {
	case existing == "":
		if !id.EmailVerified {
			lg.Warn("refusing to link unverified provider email", zap.String("user_id", u.ID.Hex()))
			return nil, false, false, ErrUnverifiedEmail
		}
		u.SetProviderID(id.Provider, id.ID)
		u.IsVerified = true
		if u.ProfilePicture == "" {
			u.ProfilePicture = id.Picture
		}
		if u.AuthProvider == domain.ProviderLocal {
			u.AuthProvider = id.Provider
		}
		linked = true
	case existing != id.ID:
		return nil, false, false, ErrIdentityConflict
	}

	now := s.store.Now().UTC()
	u.LastLogin = &now
	if err := s.store.Save(ctx, u); err != nil {
		return nil, false, false, fmt.Errorf("save social user: %w", err)
	}
	if linked {
		lg.Info("social account linked", zap.String("user_id", u.ID.Hex()))
	}
	return u, false, linked, nil
}

func (s *Service) create(ctx context.Context, id Identity) (*domain.User, error) {
	pw, err := security.NewToken()
	if err != nil {
		return nil, err
	}
	now := s.store.Now().UTC()
	u := &domain.User{
		Email:          id.Email,
		Name:           id.Name,
		IsVerified:     true,
		AuthProvider:   id.Provider,
		ProfilePicture: id.Picture,
		LastLogin:      &now,
	}
	u.SetProviderID(id.Provider, id.ID)
	u.SetPassword(pw)
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
