package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

const Issuer = "fanzone-auth"

var (
	ErrNoSecret      = errors.New("jwt secret not configured")
	ErrMissingUserID = errors.New("token payload has no user id")
)

// Payload is the identity embedded in a session token.
type Payload struct {
	UserID string
	Email  string
	Name   string
	Role   string
}

type Claims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"tokenType"`
	jwt.RegisteredClaims
}

// Codec signs and verifies the access/refresh session tokens. It is the only
// place that knows the secret and the algorithm.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

type CodecOption func(*Codec)

func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

func WithLogger(l *zap.Logger) CodecOption {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCodec(secret string, accessTTL, refreshTTL time.Duration, opts ...CodecOption) *Codec {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	c := &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) IssueAccessToken(p Payload) (string, error) {
	return c.issue(p, TokenAccess, c.accessTTL)
}

func (c *Codec) IssueRefreshToken(p Payload) (string, error) {
	return c.issue(p, TokenRefresh, c.refreshTTL)
}

func (c *Codec) issue(p Payload, typ TokenType, ttl time.Duration) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrNoSecret
	}
	if p.UserID == "" {
		return "", ErrMissingUserID
	}
	now := c.now()
	claims := Claims{
		UserID:    p.UserID,
		Email:     p.Email,
		Name:      p.Name,
		Role:      p.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify checks signature, issuer and expiry. It never returns an error:
// any failure is logged and reported as ok == false.
func (c *Codec) Verify(token string) (*Claims, bool) {
	if token == "" || len(c.secret) == 0 {
		return nil, false
	}
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	t, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		c.logger.Debug("token rejected", zap.Error(err))
		return nil, false
	}
	if !t.Valid || claims.UserID == "" {
		c.logger.Debug("token rejected", zap.String("reason", "invalid claims"))
		return nil, false
	}
	return claims, true
}
