package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Routing keys on the auth events exchange.
const (
	KeyUserRegistered    = "user.registered"
	KeyUserLoggedIn      = "user.loggedin"
	KeyUserVerified      = "user.verified"
	KeyUserPasswordReset = "user.password_reset"
	KeyUserLocked        = "user.locked"
	KeyUserSocialLinked  = "user.social_linked"
)

type UserRegistered struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type UserLoggedIn struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

type UserVerified struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type UserPasswordReset struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type UserLocked struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	LockUntil time.Time `json:"lock_until"`
}

type UserSocialLinked struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	NewUser  bool   `json:"new_user"`
}

// Emit publishes without blocking the caller. Failures are logged only;
// a lost event never fails the auth flow that produced it.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, key string, event any, reqID string) {
	if p == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := p.Publish(ctx, key, event, reqID); err != nil {
			log.Warn("publish event failed", zap.String("key", key), zap.Error(err))
		}
	}()
}
