package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

func (p Provider) Social() bool { return p == ProviderGoogle || p == ProviderFacebook }

// TokenKind names a single-use emailed token workflow.
type TokenKind string

const (
	TokenVerification  TokenKind = "verification"
	TokenPasswordReset TokenKind = "reset"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"  json:"id"`
	Email        string             `bson:"email"          json:"email"`
	Name         string             `bson:"name"           json:"name"`
	PasswordHash string             `bson:"password_hash,omitempty" json:"-"`
	Role         Role               `bson:"role"           json:"role"`

	IsVerified            bool       `bson:"is_verified"                       json:"is_verified"`
	VerificationTokenHash string     `bson:"verification_token_hash,omitempty" json:"-"`
	VerificationExpiresAt *time.Time `bson:"verification_expires_at,omitempty" json:"-"`

	ResetTokenHash string     `bson:"reset_token_hash,omitempty" json:"-"`
	ResetExpiresAt *time.Time `bson:"reset_expires_at,omitempty" json:"-"`

	LoginAttempts int        `bson:"login_attempts"       json:"-"`
	LockUntil     *time.Time `bson:"lock_until,omitempty" json:"-"`

	GoogleID       string   `bson:"google_id,omitempty"       json:"-"`
	FacebookID     string   `bson:"facebook_id,omitempty"     json:"-"`
	AuthProvider   Provider `bson:"auth_provider"             json:"auth_provider"`
	ProfilePicture string   `bson:"profile_picture,omitempty" json:"profile_picture,omitempty"`

	LastLogin *time.Time `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt time.Time  `bson:"created_at"           json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"           json:"updated_at"`
	IsActive  bool       `bson:"is_active"            json:"is_active"`

	// plaintext waiting to be hashed before the next save; never persisted
	password string
}

// SetPassword marks the password as modified. The credential store hashes it
// on the next save.
func (u *User) SetPassword(plain string) { u.password = plain }

// PendingPassword returns the plaintext set since the last save, if any.
func (u *User) PendingPassword() (string, bool) { return u.password, u.password != "" }

func (u *User) ClearPendingPassword() { u.password = "" }

// IsLocked reports whether login is blocked for u at now.
func IsLocked(u *User, now time.Time) bool {
	return u != nil && u.LockUntil != nil && u.LockUntil.After(now)
}

// ProviderID returns the identity u has at the given social provider.
func (u *User) ProviderID(p Provider) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderFacebook:
		return u.FacebookID
	}
	return ""
}

func (u *User) SetProviderID(p Provider, id string) {
	switch p {
	case ProviderGoogle:
		u.GoogleID = id
	case ProviderFacebook:
		u.FacebookID = id
	}
}

// PublicUser is the projection handed to the UI: no credentials, no tokens.
type PublicUser struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	IsVerified     bool       `json:"isVerified"`
	AuthProvider   Provider   `json:"authProvider"`
	ProfilePicture string     `json:"profilePicture,omitempty"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:             u.ID.Hex(),
		Email:          u.Email,
		Name:           u.Name,
		Role:           u.Role,
		IsVerified:     u.IsVerified,
		AuthProvider:   u.AuthProvider,
		ProfilePicture: u.ProfilePicture,
		LastLogin:      u.LastLogin,
		CreatedAt:      u.CreatedAt,
	}
}
