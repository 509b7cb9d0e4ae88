// Package auth is the email/password flow: login with lockout, registration
// with email verification, logout and the server-side page guard.
package auth

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/helper"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/metrics"
	"github.com/tazhibayda/fanzone-auth/internal/queue"
	"github.com/tazhibayda/fanzone-auth/internal/session"
)

const (
	MsgMissingCredentials = "Email and password are required"
	MsgInvalidCredentials = "Invalid email or password"
	MsgNeedsVerification  = "Please verify your email before logging in"
	MsgLocked             = "Account temporarily locked due to too many failed login attempts. Please try again later."
	MsgLoginOK            = "Login successful"
	MsgMissingFields      = "Name, email and password are required"
	MsgEmailTaken         = "An account with this email already exists"
	MsgRegisteredSent     = "Registration successful! Please check your email to verify your account."
	MsgRegisteredNotSent  = "Registration successful, but we couldn't send the verification email. You can request a new one from the login page."
	MsgNotLoggedIn        = "You are not logged in"
	MsgLoggedOut          = "Logged out successfully"
	MsgGeneric            = "Something went wrong. Please try again."
)

const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

// VerificationSender is the part of mail.Mailer registration needs.
type VerificationSender interface {
	SendVerificationEmail(ctx context.Context, to, name, token string) error
}

type Service struct {
	store    *credential.Store
	sessions *session.Manager
	mailer   VerificationSender
	pub      queue.Publisher
	logger   *zap.Logger
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Service)

// WithFailureDelay sets the pause imposed on failed logins.
func WithFailureDelay(d time.Duration) Option { return func(s *Service) { s.delay = d } }

// WithSleep replaces the delay implementation; tests pass a recorder.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = f }
}

func WithPublisher(p queue.Publisher) Option { return func(s *Service) { s.pub = p } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = log.OrNop(l) } }

func NewService(store *credential.Store, sessions *session.Manager, mailer VerificationSender, opts ...Option) *Service {
	s := &Service{
		store:    store,
		sessions: sessions,
		mailer:   mailer,
		pub:      queue.NewNoop(),
		logger:   zap.NewNop(),
		delay:    time.Second,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) fail(ctx context.Context, msg string) domain.Result {
	_ = s.sleep(ctx, s.delay)
	return domain.Fail(msg)
}

// Login checks credentials and returns the user on success. It does not touch
// cookies; LoginAction does.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, domain.Result) {
	if email == "" || password == "" {
		return nil, domain.Fail(MsgMissingCredentials)
	}
	lg := log.WithDD(ctx, s.logger, zap.String("email_hash", helper.Hash8(email)))

	u, err := s.store.FindByEmail(ctx, email, credential.IncludePassword())
	if err != nil {
		lg.Error("login lookup failed", zap.Error(err))
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, domain.Fail(MsgGeneric)
	}
	if u == nil {
		metrics.LoginAttempts.WithLabelValues("unknown").Inc()
		return nil, s.fail(ctx, MsgInvalidCredentials)
	}
	if !u.IsVerified {
		metrics.LoginAttempts.WithLabelValues("unverified").Inc()
		return nil, domain.Result{Message: MsgNeedsVerification, NeedsVerification: true}
	}
	if domain.IsLocked(u, s.store.Now()) {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, domain.Fail(MsgLocked)
	}
	if !u.IsActive {
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		return nil, s.fail(ctx, MsgInvalidCredentials)
	}

	if !s.store.ComparePassword(u, password) {
		metrics.LoginAttempts.WithLabelValues("bad_password").Inc()
		locked, err := s.store.IncrementLoginAttempts(ctx, u)
		if err != nil {
			lg.Error("record failed login", zap.Error(err))
		}
		if locked {
			metrics.Lockouts.Inc()
			lg.Warn("account locked", zap.String("user_id", u.ID.Hex()), zap.Int("attempts", u.LoginAttempts))
			queue.Emit(ctx, s.pub, s.logger, queue.KeyUserLocked,
				queue.UserLocked{UserID: u.ID.Hex(), Email: u.Email, LockUntil: *u.LockUntil}, helper.RequestID(ctx))
		}
		return nil, s.fail(ctx, MsgInvalidCredentials)
	}

	now := s.store.Now().UTC()
	u.LastLogin = &now
	if err := s.store.ResetLoginAttempts(ctx, u); err != nil {
		lg.Error("reset login attempts", zap.Error(err))
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, domain.Fail(MsgGeneric)
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	queue.Emit(ctx, s.pub, s.logger, queue.KeyUserLoggedIn,
		queue.UserLoggedIn{UserID: u.ID.Hex(), Email: u.Email, Provider: string(domain.ProviderLocal)}, helper.RequestID(ctx))

	res := domain.OK(MsgLoginOK)
	res.User = u.Public()
	return u, res
}

// LoginAction is Login followed by issuing the session cookies.
func (s *Service) LoginAction(ctx context.Context, jar session.CookieJar, email, password string) domain.Result {
	u, res := s.Login(ctx, email, password)
	if u == nil {
		return res
	}
	if err := s.sessions.Establish(jar, u); err != nil {
		log.WithDD(ctx, s.logger).Error("establish session", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	return res
}

// Register creates an unverified account and sends the verification email.
// A delivery failure does not undo the registration.
func (s *Service) Register(ctx context.Context, name, email, password string) domain.Result {
	if name == "" || email == "" || password == "" {
		return domain.Fail(MsgMissingFields)
	}
	lg := log.WithDD(ctx, s.logger, zap.String("email_hash", helper.Hash8(email)))

	existing, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		lg.Error("register lookup failed", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if existing != nil {
		return domain.Fail(MsgEmailTaken)
	}

	u := &domain.User{Name: name, Email: email, IsVerified: false}
	u.SetPassword(password)
	token, err := s.store.GenerateVerificationToken(u)
	if err != nil {
		lg.Error("verification token", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if err := s.store.Create(ctx, u); err != nil {
		var ve *credential.ValidationError
		switch {
		case errors.As(err, &ve):
			return domain.Fail(ve.Msg)
		case errors.Is(err, domain.ErrEmailTaken):
			return domain.Fail(MsgEmailTaken)
		}
		lg.Error("create user", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}

	msg, outcome := MsgRegisteredSent, "sent"
	if err := s.mailer.SendVerificationEmail(ctx, u.Email, u.Name, token); err != nil {
		lg.Warn("verification email not sent", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		msg, outcome = MsgRegisteredNotSent, "failed"
	}
	metrics.Registrations.WithLabelValues(outcome).Inc()
	queue.Emit(ctx, s.pub, s.logger, queue.KeyUserRegistered,
		queue.UserRegistered{UserID: u.ID.Hex(), Email: u.Email, Name: u.Name}, helper.RequestID(ctx))

	res := domain.OK(msg)
	res.User = u.Public()
	return res
}

func (s *Service) Logout(ctx context.Context, jar session.CookieJar) domain.Result {
	u, err := s.sessions.GetCurrentUser(ctx, jar)
	if err != nil {
		log.WithDD(ctx, s.logger).Error("logout session lookup", zap.Error(err))
	}
	s.sessions.ClearAuthCookies(jar)
	if u == nil {
		return domain.Fail(MsgNotLoggedIn)
	}
	return domain.OK(MsgLoggedOut)
}

// Redirect tells a page handler where to send the browser instead.
type Redirect struct {
	Location string
}

// RequireAuth resolves the acting user for a protected page. With roles, the
// user's role must be one of them.
func (s *Service) RequireAuth(ctx context.Context, jar session.CookieJar, returnPath string, roles ...domain.Role) (*domain.User, *Redirect, error) {
	u, err := s.sessions.GetCurrentUser(ctx, jar)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return nil, &Redirect{Location: LoginRedirect(returnPath)}, nil
	}
	if len(roles) == 0 {
		return u, nil, nil
	}
	for _, r := range roles {
		if u.Role == r {
			return u, nil, nil
		}
	}
	return nil, &Redirect{Location: UnauthorizedPath}, nil
}

// LoginRedirect is the login page URL carrying from as the return hint.
func LoginRedirect(from string) string {
	if from == "" {
		return LoginPath
	}
	return LoginPath + "?from=" + url.QueryEscape(from)
}
