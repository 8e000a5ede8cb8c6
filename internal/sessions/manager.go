package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/optyhq/auth-service/internal/identity"
	"github.com/optyhq/auth-service/internal/profiles"
	"github.com/optyhq/auth-service/pkg/logger"
)

// Session is what login and refresh hand back to the HTTP layer. RefreshToken
// is always the internally minted one; the provider's own refresh token stays
// server-side in the profile cache.
type Session struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	TokenType    string            `json:"token_type"`
	User         *profiles.Profile `json:"user,omitempty"`
}

// Manager orchestrates the session lifecycle across the identity provider,
// the profile repository and the refresh token store. It holds no state of
// its own between calls.
type Manager struct {
	store     Store
	provider  identity.Provider
	profiles  profiles.Repository
	generate  Generator
	opTimeout time.Duration
}

// NewManager wires the manager from its four collaborators. A nil generator
// falls back to NewGenerator(DefaultRefreshTTL); a non-positive opTimeout
// falls back to 5s per outbound call.
func NewManager(store Store, provider identity.Provider, repo profiles.Repository, gen Generator, opTimeout time.Duration) *Manager {
	if gen == nil {
		gen = NewGenerator(DefaultRefreshTTL)
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Manager{store: store, provider: provider, profiles: repo, generate: gen, opTimeout: opTimeout}
}

func (m *Manager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.opTimeout)
}

// depErr translates deadline exhaustion on any outbound call into the
// retryable ErrDependencyTimeout; everything else passes through. Driver
// timeouts (mongo server selection, net dial) don't always unwrap to
// context.DeadlineExceeded, so the Timeout() interface is checked too.
func depErr(err error) error {
	var to interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, identity.ErrTimeout),
		errors.As(err, &to) && to.Timeout():
		return fmt.Errorf("%w: %v", ErrDependencyTimeout, err)
	}
	return err
}

// Login verifies credentials at the provider, caches the provider's refresh
// token on the profile, and mints an internal refresh token for the client.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	cctx, cancel := m.bound(ctx)
	creds, err := m.provider.SignInWithPassword(cctx, email, password)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return nil, err
		}
		return nil, depErr(err)
	}

	cctx, cancel = m.bound(ctx)
	err = m.profiles.SetRefreshCache(cctx, creds.OwnerID, creds.Email, creds.RefreshToken)
	cancel()
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			// profile creation belongs to registration; without it the next
			// refresh will end in ErrSessionLost
			logger.Warnf("login: no profile for owner %s, provider refresh token not cached", creds.OwnerID)
		} else {
			return nil, depErr(err)
		}
	}

	tok, err := m.mint(ctx, creds.OwnerID)
	if err != nil {
		return nil, err
	}

	sess := &Session{AccessToken: creds.AccessToken, RefreshToken: tok, TokenType: "bearer"}
	cctx, cancel = m.bound(ctx)
	if p, perr := m.profiles.GetByOwnerID(cctx, creds.OwnerID); perr == nil {
		sess.User = p
	}
	cancel()
	if sess.User == nil {
		sess.User = &profiles.Profile{OwnerID: creds.OwnerID, Email: creds.Email, Active: true}
	}
	return sess, nil
}

// Refresh redeems an internal refresh token exactly once and returns a new
// provider access token plus a replacement refresh token.
//
// The presented token is deleted before the replacement is minted: a stolen,
// already-used token can then never be redeemed twice, at the cost of a narrow
// window in which the owner briefly holds no token.
func (m *Manager) Refresh(ctx context.Context, token string) (*Session, error) {
	cctx, cancel := m.bound(ctx)
	rec, err := m.store.Get(cctx, token)
	cancel()
	if err != nil {
		return nil, depErr(err)
	}
	if rec == nil {
		return nil, ErrInvalidToken
	}

	if rec.Expired(time.Now().UTC()) {
		cctx, cancel := m.bound(ctx)
		_, _ = m.store.Delete(cctx, token)
		cancel()
		return nil, ErrExpiredToken
	}

	// Single-winner rotation: the delete reports whether this caller actually
	// removed the record, so a racing duplicate observes ErrInvalidToken.
	cctx, cancel = m.bound(ctx)
	removed, err := m.store.Delete(cctx, token)
	cancel()
	if err != nil {
		return nil, depErr(err)
	}
	if !removed {
		return nil, ErrInvalidToken
	}

	cctx, cancel = m.bound(ctx)
	cached, err := m.profiles.GetRefreshCache(cctx, rec.OwnerID)
	cancel()
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return nil, ErrSessionLost
		}
		return nil, depErr(err)
	}
	if cached == "" {
		return nil, ErrSessionLost
	}

	cctx, cancel = m.bound(ctx)
	creds, err := m.provider.RefreshSession(cctx, cached)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrSessionRejected) {
			return nil, ErrSessionLost
		}
		return nil, depErr(err)
	}

	if creds.RefreshToken != "" && creds.RefreshToken != cached {
		// the provider rotated its own refresh token; keep the cache current
		cctx, cancel := m.bound(ctx)
		if cerr := m.profiles.SetRefreshCache(cctx, rec.OwnerID, creds.Email, creds.RefreshToken); cerr != nil {
			logger.Warnf("refresh: provider token cache update failed for owner %s: %v", rec.OwnerID, cerr)
		}
		cancel()
	}

	newTok, err := m.mint(ctx, rec.OwnerID)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: creds.AccessToken, RefreshToken: newTok, TokenType: "bearer"}, nil
}

// mint generates and persists a refresh token for the owner, regenerating once
// on a token collision.
func (m *Manager) mint(ctx context.Context, ownerID string) (string, error) {
	for attempt := 0; ; attempt++ {
		tok, exp, err := m.generate()
		if err != nil {
			return "", err
		}
		rec := &RefreshToken{Token: tok, OwnerID: ownerID, IssuedAt: time.Now().UTC(), ExpiresAt: exp}
		cctx, cancel := m.bound(ctx)
		err = m.store.Create(cctx, rec)
		cancel()
		if err == nil {
			return tok, nil
		}
		if errors.Is(err, ErrConflict) && attempt == 0 {
			continue
		}
		return "", depErr(err)
	}
}

// Logout revokes every refresh token the owner holds. Idempotent.
func (m *Manager) Logout(ctx context.Context, ownerID string) error {
	cctx, cancel := m.bound(ctx)
	defer cancel()
	if err := m.store.DeleteAllForOwner(cctx, ownerID); err != nil {
		return depErr(err)
	}
	return nil
}

// DeleteAccount revokes all tokens, soft-deletes the profile and instructs the
// provider to soft-delete the external identity. Idempotent.
func (m *Manager) DeleteAccount(ctx context.Context, ownerID string) error {
	if err := m.Logout(ctx, ownerID); err != nil {
		return err
	}
	cctx, cancel := m.bound(ctx)
	err := m.profiles.SoftDelete(cctx, ownerID)
	cancel()
	if err != nil && !errors.Is(err, profiles.ErrNotFound) {
		return depErr(err)
	}
	cctx, cancel = m.bound(ctx)
	defer cancel()
	if err := m.provider.SoftDeleteUser(cctx, ownerID); err != nil {
		return depErr(err)
	}
	return nil
}

// RequestPasswordReset asks the provider to dispatch a reset e-mail. The
// outcome is uniform regardless of whether the address is registered or the
// dispatch failed; failures are only logged.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	cctx, cancel := m.bound(ctx)
	defer cancel()
	if err := m.provider.SendPasswordReset(cctx, email); err != nil {
		logger.Warnf("password reset dispatch failed: %v", err)
	}
	return nil
}

// OAuthURL returns the provider redirect URL starting an OAuth flow.
func (m *Manager) OAuthURL(provider string) (string, error) {
	return m.provider.OAuthURL(provider)
}

// Profile returns the stored profile for an authenticated owner.
func (m *Manager) Profile(ctx context.Context, ownerID string) (*profiles.Profile, error) {
	cctx, cancel := m.bound(ctx)
	defer cancel()
	p, err := m.profiles.GetByOwnerID(cctx, ownerID)
	if err != nil && !errors.Is(err, profiles.ErrNotFound) {
		return nil, depErr(err)
	}
	return p, err
}
