package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func tokenFields(kind domain.TokenKind) (hash, expires string, err error) {
	switch kind {
	case domain.TokenVerification:
		return "verification_token_hash", "verification_expires_at", nil
	case domain.TokenPasswordReset:
		return "reset_token_hash", "reset_expires_at", nil
	}
	return "", "", fmt.Errorf("unknown token kind %q", kind)
}

// ClaimUserToken consumes a single-use token: the user whose stored hash
// matches and whose window is still open gets the token fields removed in the
// same write, so a plaintext can be redeemed at most once. Redeeming a
// verification token also marks the user verified in that write. Returns the
// user after the update, or nil when nothing matched.
func (s *Store) ClaimUserToken(ctx context.Context, kind domain.TokenKind, hash string, now time.Time) (u *domain.User, err error) {
	sp, ctx := s.span(ctx, "claim_token", tracer.Tag("purpose", string(kind)))
	defer func() { finish(sp, err) }()

	hashField, expField, err := tokenFields(kind)
	if err != nil {
		return nil, err
	}
	set := bson.M{"updated_at": now.UTC()}
	if kind == domain.TokenVerification {
		set["is_verified"] = true
	}
	res := s.users.FindOneAndUpdate(
		ctx,
		bson.M{hashField: hash, expField: bson.M{"$gt": now.UTC()}},
		bson.M{
			"$unset": bson.M{hashField: "", expField: ""},
			"$set":   set,
		},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"password_hash": 0}),
	)
	var out domain.User
	if err := res.Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim %s token: %w", kind, err)
	}
	return &out, nil
}
