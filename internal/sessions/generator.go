package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultRefreshTTL is the validity window for freshly minted refresh tokens.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// Generator mints one opaque refresh token and its expiry timestamp. A failed
// read from the random source is the only error and is not recoverable.
type Generator func() (token string, expiresAt time.Time, err error)

// NewGenerator returns a Generator producing 512-bit URL-safe tokens valid for
// ttl from the moment of generation. A non-positive ttl falls back to
// DefaultRefreshTTL.
func NewGenerator(ttl time.Duration) Generator {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return func() (string, time.Time, error) {
		b := make([]byte, 64)
		if _, err := rand.Read(b); err != nil {
			return "", time.Time{}, fmt.Errorf("sessions: random source: %w", err)
		}
		return base64.RawURLEncoding.EncodeToString(b), time.Now().UTC().Add(ttl), nil
	}
}
