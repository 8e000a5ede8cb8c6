package sessions

import "time"

// RefreshToken is one internally minted refresh credential. Records are
// immutable once stored; rotation always deletes and re-creates.
type RefreshToken struct {
	Token     string    `bson:"token" json:"token"`
	OwnerID   string    `bson:"ownerId" json:"ownerId"`
	IssuedAt  time.Time `bson:"issuedAt" json:"issuedAt"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
}

// Expired reports whether the token is past its validity window at the given
// wall-clock instant.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
