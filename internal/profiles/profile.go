package profiles

import "time"

// Profile is the application-side user record stored in MongoDB. The provider
// refresh token is cached here so the service can renew provider sessions on
// the user's behalf; it is excluded from JSON responses.
type Profile struct {
	ID                   string    `bson:"_id,omitempty" json:"id,omitempty"`
	OwnerID              string    `bson:"ownerId" json:"owner_id"`
	Email                string    `bson:"email" json:"email"`
	Name                 string    `bson:"name,omitempty" json:"name,omitempty"`
	Role                 string    `bson:"role,omitempty" json:"role,omitempty"`
	Active               bool      `bson:"active" json:"active"`
	ProviderRefreshToken string    `bson:"providerRefreshToken,omitempty" json:"-"`
	CreatedAt            time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt            time.Time `bson:"updatedAt" json:"updated_at"`
}
