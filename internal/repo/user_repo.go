package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

type Store struct {
	Client *mongo.Client
	DB     *mongo.Database
	users  *mongo.Collection
}

func NewStore(ctx context.Context, uri, dbname string) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetRetryWrites(true).
		SetMaxPoolSize(50),
	)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	db := cli.Database(dbname)
	return &Store{Client: cli, DB: db, users: db.Collection("users")}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

func (s *Store) EnsureUserIndexes(ctx context.Context) error {
	sparse := func(key string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys:    bson.D{{Key: key, Value: 1}},
			Options: options.Index().SetSparse(true).SetName(key + "_sparse"),
		}
	}
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{
			Keys:    bson.D{{Key: "google_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_google_id"),
		},
		{
			Keys:    bson.D{{Key: "facebook_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_facebook_id"),
		},
		sparse("verification_token_hash"),
		sparse("reset_token_hash"),
	})
	return err
}

// IsDup reports a duplicate key (E11000) write failure.
func IsDup(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}

func (s *Store) span(ctx context.Context, op string, tags ...ddtrace.StartSpanOption) (ddtrace.Span, context.Context) {
	opts := append([]ddtrace.StartSpanOption{
		tracer.ServiceName("mongo"),
		tracer.Tag("db.collection", "users"),
	}, tags...)
	return tracer.StartSpanFromContext(ctx, "mongo.users."+op, opts...)
}

func finish(sp ddtrace.Span, err error) {
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		sp.Finish(tracer.WithError(err))
		return
	}
	sp.Finish()
}

func findOpts(withPassword bool) *options.FindOneOptions {
	o := options.FindOne()
	if !withPassword {
		o.SetProjection(bson.M{"password_hash": 0})
	}
	return o
}

func (s *Store) findOne(ctx context.Context, op string, filter bson.M, withPassword bool) (u *domain.User, err error) {
	sp, ctx := s.span(ctx, op)
	defer func() { finish(sp, err) }()

	var out domain.User
	err = s.users.FindOne(ctx, filter, findOpts(withPassword)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &out, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string, withPassword bool) (*domain.User, error) {
	return s.findOne(ctx, "find_by_email", bson.M{"email": email}, withPassword)
}

func (s *Store) FindUserByID(ctx context.Context, id string, withPassword bool) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.findOne(ctx, "find_by_id", bson.M{"_id": oid}, withPassword)
}

// FindUserByProvider prefers a user already linked to the provider identity and
// falls back to the email address.
func (s *Store) FindUserByProvider(ctx context.Context, p domain.Provider, providerID, email string) (*domain.User, error) {
	field, err := providerField(p)
	if err != nil {
		return nil, err
	}
	if providerID != "" {
		u, err := s.findOne(ctx, "find_by_provider", bson.M{field: providerID}, false)
		if err != nil || u != nil {
			return u, err
		}
	}
	if email == "" {
		return nil, nil
	}
	return s.FindUserByEmail(ctx, email, false)
}

func providerField(p domain.Provider) (string, error) {
	switch p {
	case domain.ProviderGoogle:
		return "google_id", nil
	case domain.ProviderFacebook:
		return "facebook_id", nil
	}
	return "", fmt.Errorf("unsupported provider %q", p)
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) (err error) {
	sp, ctx := s.span(ctx, "insert", tracer.Tag("auth_provider", string(u.AuthProvider)))
	defer func() { finish(sp, err) }()

	res, err := s.users.InsertOne(ctx, u)
	if IsDup(err) {
		return domain.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		u.ID = oid
	}
	return nil
}

// clearable lists optional fields that SaveUser removes when they are unset on
// the in-memory record.
var clearable = []string{
	"verification_token_hash",
	"verification_expires_at",
	"reset_token_hash",
	"reset_expires_at",
	"lock_until",
}

// SaveUser writes every field of u except the password hash, which is only
// written when u carries one (lookups project it out by default).
func (s *Store) SaveUser(ctx context.Context, u *domain.User) (err error) {
	sp, ctx := s.span(ctx, "update", tracer.Tag("user_id", u.ID.Hex()))
	defer func() { finish(sp, err) }()

	raw, err := bson.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	set := bson.M{}
	if err := bson.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	delete(set, "_id")

	unset := bson.M{}
	for _, f := range clearable {
		if _, ok := set[f]; !ok {
			unset[f] = ""
		}
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := s.users.UpdateByID(ctx, u.ID, update)
	if IsDup(err) {
		return domain.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
