package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/tazhibayda/fanzone-auth/internal/security"
)

// StateTTL bounds how long an authorization round trip may take.
const StateTTL = 10 * time.Minute

// StateSigner binds the OAuth state parameter to this server so a callback
// cannot be replayed with a state minted elsewhere.
type StateSigner struct {
	key []byte
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{key: []byte(secret)}
}

func (s *StateSigner) sign(raw string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(raw))
	return mac.Sum(nil)
}

// NewState returns a fresh random state, signed.
func (s *StateSigner) NewState() (string, error) {
	raw, err := security.NewToken()
	if err != nil {
		return "", err
	}
	return s.MakeState(raw), nil
}

func (s *StateSigner) MakeState(raw string) string {
	return raw + "." + base64.RawURLEncoding.EncodeToString(s.sign(raw))
}

func (s *StateSigner) VerifyState(got string) bool {
	raw, sig, ok := strings.Cut(got, ".")
	if !ok || raw == "" {
		return false
	}
	sigb, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(s.sign(raw), sigb)
}
