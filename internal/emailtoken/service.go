// Package emailtoken runs the emailed single-use token workflows: address
// verification and password reset.
package emailtoken

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/helper"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/metrics"
	"github.com/tazhibayda/fanzone-auth/internal/queue"
)

const (
	MsgEmailRequired       = "Email is required"
	MsgVerificationSent    = "If an account exists for this email, a verification link has been sent."
	MsgAlreadyVerified     = "This email address is already verified"
	MsgVerified            = "Email verified successfully. You can now log in."
	MsgInvalidVerification = "Invalid or expired verification link"
	MsgResetSent           = "If an account exists for this email, a password reset link has been sent."
	MsgPasswordReset       = "Password reset successfully. You can now log in with your new password."
	MsgInvalidReset        = "Invalid or expired reset link"
	MsgPasswordTooShort    = "Password must be at least 8 characters"
	MsgSendFailed          = "We couldn't send the email right now. Please try again later."
	MsgGeneric             = "Something went wrong. Please try again."
)

type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, name, token string) error
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
}

type Service struct {
	store  *credential.Store
	mailer Mailer
	pub    queue.Publisher
	logger *zap.Logger
}

type Option func(*Service)

func WithPublisher(p queue.Publisher) Option { return func(s *Service) { s.pub = p } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = log.OrNop(l) } }

func NewService(store *credential.Store, mailer Mailer, opts ...Option) *Service {
	s := &Service{store: store, mailer: mailer, pub: queue.NewNoop(), logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func count(purpose domain.TokenKind, op, result string) {
	metrics.EmailTokens.WithLabelValues(string(purpose), op, result).Inc()
}

// RequestVerificationEmail mints a fresh verification token and mails it.
// Unknown addresses get the same answer as known ones.
func (s *Service) RequestVerificationEmail(ctx context.Context, email string) domain.Result {
	if strings.TrimSpace(email) == "" {
		return domain.Fail(MsgEmailRequired)
	}
	lg := log.WithDD(ctx, s.logger, zap.String("email_hash", helper.Hash8(email)))

	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		lg.Error("verification request lookup", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if u == nil {
		count(domain.TokenVerification, "request", "unknown")
		return domain.OK(MsgVerificationSent)
	}
	if u.IsVerified {
		count(domain.TokenVerification, "request", "verified")
		return domain.Fail(MsgAlreadyVerified)
	}

	token, err := s.store.GenerateVerificationToken(u)
	if err == nil {
		err = s.store.Save(ctx, u)
	}
	if err != nil {
		lg.Error("store verification token", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if err := s.mailer.SendVerificationEmail(ctx, u.Email, u.Name, token); err != nil {
		lg.Warn("verification email not sent", zap.Error(err))
		count(domain.TokenVerification, "request", "send_failed")
		return domain.Fail(MsgSendFailed)
	}
	count(domain.TokenVerification, "request", "sent")
	return domain.OK(MsgVerificationSent)
}

// VerifyEmail redeems a verification token. The claim marks the user verified
// in the same write.
func (s *Service) VerifyEmail(ctx context.Context, token string) domain.Result {
	u, err := s.store.ClaimToken(ctx, domain.TokenVerification, token)
	if err != nil {
		log.WithDD(ctx, s.logger).Error("claim verification token", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if u == nil {
		count(domain.TokenVerification, "redeem", "invalid")
		return domain.Fail(MsgInvalidVerification)
	}
	count(domain.TokenVerification, "redeem", "ok")
	queue.Emit(ctx, s.pub, s.logger, queue.KeyUserVerified,
		queue.UserVerified{UserID: u.ID.Hex(), Email: u.Email, Name: u.Name}, helper.RequestID(ctx))

	res := domain.OK(MsgVerified)
	res.User = u.Public()
	return res
}

// RequestPasswordReset mails a reset link. Unknown and deactivated accounts
// get the same answer as active ones.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) domain.Result {
	if strings.TrimSpace(email) == "" {
		return domain.Fail(MsgEmailRequired)
	}
	lg := log.WithDD(ctx, s.logger, zap.String("email_hash", helper.Hash8(email)))

	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		lg.Error("reset request lookup", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if u == nil || !u.IsActive {
		count(domain.TokenPasswordReset, "request", "unknown")
		return domain.OK(MsgResetSent)
	}

	token, err := s.store.GeneratePasswordResetToken(u)
	if err == nil {
		err = s.store.Save(ctx, u)
	}
	if err != nil {
		lg.Error("store reset token", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, u.Email, u.Name, token); err != nil {
		lg.Warn("reset email not sent", zap.Error(err))
		count(domain.TokenPasswordReset, "request", "send_failed")
		return domain.Fail(MsgSendFailed)
	}
	count(domain.TokenPasswordReset, "request", "sent")
	return domain.OK(MsgResetSent)
}

// ResetPassword redeems a reset token and sets the new password. A reset also
// lifts any login lock.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) domain.Result {
	if err := s.store.ValidatePassword(newPassword); err != nil {
		var ve *credential.ValidationError
		if errors.As(err, &ve) {
			return domain.Fail(ve.Msg)
		}
		return domain.Fail(MsgGeneric)
	}
	u, err := s.store.ClaimToken(ctx, domain.TokenPasswordReset, token)
	if err != nil {
		log.WithDD(ctx, s.logger).Error("claim reset token", zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	if u == nil {
		count(domain.TokenPasswordReset, "redeem", "invalid")
		return domain.Fail(MsgInvalidReset)
	}

	u.SetPassword(newPassword)
	u.LoginAttempts = 0
	u.LockUntil = nil
	if err := s.store.Save(ctx, u); err != nil {
		var ve *credential.ValidationError
		if errors.As(err, &ve) {
			return domain.Fail(ve.Msg)
		}
		log.WithDD(ctx, s.logger).Error("save new password", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		return domain.Fail(MsgGeneric)
	}
	count(domain.TokenPasswordReset, "redeem", "ok")
	queue.Emit(ctx, s.pub, s.logger, queue.KeyUserPasswordReset,
		queue.UserPasswordReset{UserID: u.ID.Hex(), Email: u.Email}, helper.RequestID(ctx))
	return domain.OK(MsgPasswordReset)
}
