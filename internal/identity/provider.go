package identity

import (
	"context"
	"errors"
)

// Credentials is the session material issued by the identity provider after a
// successful authentication or renewal. RefreshToken is the provider's own
// refresh credential and must never be handed to clients.
type Credentials struct {
	OwnerID      string
	Email        string
	AccessToken  string
	RefreshToken string
}

// User is the provider's view of an account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

var (
	// ErrInvalidCredentials means the provider rejected an email/password pair.
	// Callers must not distinguish unknown-email from wrong-password.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrSessionRejected means the provider explicitly refused a refresh
	// token (expired or revoked upstream). Terminal for the session.
	ErrSessionRejected = errors.New("identity: provider rejected session")

	// ErrTimeout means the provider did not answer within the call deadline.
	ErrTimeout = errors.New("identity: provider timeout")
)

// Provider is the capability surface of the external identity service. The
// session manager depends only on this interface.
type Provider interface {
	// SignInWithPassword verifies credentials and creates a provider session.
	SignInWithPassword(ctx context.Context, email, password string) (*Credentials, error)

	// RefreshSession exchanges the provider's refresh token for a new access
	// token. The returned Credentials may carry a rotated refresh token.
	RefreshSession(ctx context.Context, refreshToken string) (*Credentials, error)

	// OAuthURL returns the redirect URL that starts an OAuth flow with the
	// named upstream provider (google, github, ...).
	OAuthURL(provider string) (string, error)

	// SendPasswordReset triggers the provider's reset e-mail dispatch.
	SendPasswordReset(ctx context.Context, email string) error

	// UserFromToken resolves the account behind an access token, or nil when
	// the token is not accepted.
	UserFromToken(ctx context.Context, accessToken string) (*User, error)

	// SoftDeleteUser marks the external identity as deleted.
	SoftDeleteUser(ctx context.Context, ownerID string) error
}
