// Package notify turns auth events into follow-up emails.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/helper"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/queue"
)

type WelcomeSender interface {
	SendWelcomeEmail(ctx context.Context, to, name string) error
}

type Handler struct {
	mailer WelcomeSender
	logger *zap.Logger
}

func NewHandler(mailer WelcomeSender, logger *zap.Logger) *Handler {
	return &Handler{mailer: mailer, logger: log.OrNop(logger)}
}

// Handle sends the welcome email once an account is usable: after email
// verification, or on the first social sign-in. Other events are acked.
func (h *Handler) Handle(ctx context.Context, d queue.Delivery) error {
	lg := h.logger.With(zap.String("key", d.Key), zap.String("request_id", d.ReqID))

	var to, name string
	switch d.Key {
	case queue.KeyUserVerified:
		var ev queue.UserVerified
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return fmt.Errorf("%w: %v", queue.ErrDrop, err)
		}
		to, name = ev.Email, ev.Name
	case queue.KeyUserSocialLinked:
		var ev queue.UserSocialLinked
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return fmt.Errorf("%w: %v", queue.ErrDrop, err)
		}
		if !ev.NewUser {
			return nil
		}
		to, name = ev.Email, ev.Name
	default:
		return nil
	}

	if to == "" {
		return fmt.Errorf("%w: event without email", queue.ErrDrop)
	}
	if err := h.mailer.SendWelcomeEmail(ctx, to, name); err != nil {
		return err
	}
	lg.Info("welcome email sent", zap.String("to_hash", helper.Hash8(to)))
	return nil
}
