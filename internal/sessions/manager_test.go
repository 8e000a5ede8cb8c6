package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/optyhq/auth-service/internal/identity"
	"github.com/optyhq/auth-service/internal/profiles"
	"github.com/stretchr/testify/require"
)

// fake refresh token store with the same single-winner delete semantics the
// real stores provide
type fakeStore struct {
	mu      sync.Mutex
	tokens  map[string]*RefreshToken
	failure error // when set, Create fails once with this error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tokens: map[string]*RefreshToken{}}
}

func (f *fakeStore) Create(ctx context.Context, t *RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		err := f.failure
		f.failure = nil
		return err
	}
	if _, ok := f.tokens[t.Token]; ok {
		return ErrConflict
	}
	cp := *t
	f.tokens[t.Token] = &cp
	return nil
}

func (f *fakeStore) Get(ctx context.Context, token string) (*RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) Delete(ctx context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[token]; !ok {
		return false, nil
	}
	delete(f.tokens, token)
	return true, nil
}

func (f *fakeStore) DeleteAllForOwner(ctx context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.tokens {
		if t.OwnerID == ownerID {
			delete(f.tokens, k)
		}
	}
	return nil
}

func (f *fakeStore) countForOwner(ownerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tokens {
		if t.OwnerID == ownerID {
			n++
		}
	}
	return n
}

// fake identity provider
type fakeProvider struct {
	mu             sync.Mutex
	signInErr      error
	refreshErr     error
	resetErr       error
	rotatedRefresh string // when set, RefreshSession returns this new provider token
	accessCounter  int
	resetCalls     []string
	deletedOwners  []string
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Credentials, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	return &identity.Credentials{OwnerID: "u1", Email: email, AccessToken: "provider-access-1", RefreshToken: "provider-refresh-1"}, nil
}

func (p *fakeProvider) RefreshSession(ctx context.Context, refreshToken string) (*identity.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	p.accessCounter++
	return &identity.Credentials{AccessToken: "provider-access-renewed", RefreshToken: p.rotatedRefresh}, nil
}

func (p *fakeProvider) OAuthURL(provider string) (string, error) {
	return "https://idp.example/authorize?provider=" + provider, nil
}

func (p *fakeProvider) SendPasswordReset(ctx context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetCalls = append(p.resetCalls, email)
	return p.resetErr
}

func (p *fakeProvider) UserFromToken(ctx context.Context, accessToken string) (*identity.User, error) {
	return &identity.User{ID: "u1", Email: "a@x.com"}, nil
}

func (p *fakeProvider) SoftDeleteUser(ctx context.Context, ownerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletedOwners = append(p.deletedOwners, ownerID)
	return nil
}

// fake profile repository
type fakeProfiles struct {
	mu      sync.Mutex
	cache   map[string]string
	byOwner map[string]*profiles.Profile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		cache:   map[string]string{},
		byOwner: map[string]*profiles.Profile{"u1": {OwnerID: "u1", Email: "a@x.com", Active: true}},
	}
}

func (f *fakeProfiles) GetByOwnerID(ctx context.Context, ownerID string) (*profiles.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byOwner[ownerID]
	if !ok {
		return nil, profiles.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) GetRefreshCache(ctx context.Context, ownerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byOwner[ownerID]; !ok {
		return "", profiles.ErrNotFound
	}
	return f.cache[ownerID], nil
}

func (f *fakeProfiles) SetRefreshCache(ctx context.Context, ownerID, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byOwner[ownerID]; !ok {
		return profiles.ErrNotFound
	}
	f.cache[ownerID] = token
	return nil
}

func (f *fakeProfiles) SoftDelete(ctx context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byOwner[ownerID]; ok {
		p.Active = false
		delete(f.cache, ownerID)
	}
	return nil
}

func newTestManager() (*Manager, *fakeStore, *fakeProvider, *fakeProfiles) {
	store := newFakeStore()
	provider := &fakeProvider{}
	repo := newFakeProfiles()
	mgr := NewManager(store, provider, repo, NewGenerator(time.Hour), time.Second)
	return mgr, store, provider, repo
}

func TestLogin_IssuesInternalToken(t *testing.T) {
	mgr, store, _, repo := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)
	require.Equal(t, "provider-access-1", sess.AccessToken)
	require.Equal(t, "bearer", sess.TokenType)
	require.NotEmpty(t, sess.RefreshToken)
	// the provider's own refresh token must never reach the client
	require.NotEqual(t, "provider-refresh-1", sess.RefreshToken)
	require.NotNil(t, sess.User)
	require.Equal(t, "u1", sess.User.OwnerID)

	// provider refresh token cached on the profile
	cached, err := repo.GetRefreshCache(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "provider-refresh-1", cached)

	// internal token persisted for the owner
	rec, err := store.Get(ctx, sess.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "u1", rec.OwnerID)
	require.True(t, rec.ExpiresAt.After(time.Now()))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	mgr, store, provider, _ := newTestManager()
	provider.signInErr = identity.ErrInvalidCredentials

	_, err := mgr.Login(context.Background(), "a@x.com", "wrong")
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)
	require.Equal(t, 0, store.countForOwner("u1"))
}

func TestRefresh_RotationScenario(t *testing.T) {
	mgr, store, _, _ := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)
	t1 := sess.RefreshToken

	// first redemption succeeds with a different token
	out, err := mgr.Refresh(ctx, t1)
	require.NoError(t, err)
	require.Equal(t, "provider-access-renewed", out.AccessToken)
	t2 := out.RefreshToken
	require.NotEqual(t, t1, t2)

	// the presented token is gone and exactly one token exists for the owner
	rec, err := store.Get(ctx, t1)
	require.NoError(t, err)
	require.Nil(t, rec)
	require.Equal(t, 1, store.countForOwner("u1"))

	// replaying the consumed token fails terminally
	_, err = mgr.Refresh(ctx, t1)
	require.ErrorIs(t, err, ErrInvalidToken)

	// the replacement still works
	_, err = mgr.Refresh(ctx, t2)
	require.NoError(t, err)
}

func TestRefresh_UnknownToken(t *testing.T) {
	mgr, _, _, _ := newTestManager()
	_, err := mgr.Refresh(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_ExpiredTokenIsRemoved(t *testing.T) {
	mgr, store, _, _ := newTestManager()
	ctx := context.Background()

	expired := &RefreshToken{
		Token:     "stale",
		OwnerID:   "u1",
		IssuedAt:  time.Now().UTC().Add(-8 * 24 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.Create(ctx, expired))

	_, err := mgr.Refresh(ctx, "stale")
	require.ErrorIs(t, err, ErrExpiredToken)

	// cleanup happened: the second attempt sees an unknown token
	_, err = mgr.Refresh(ctx, "stale")
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Equal(t, 0, store.countForOwner("u1"))
}

func TestRefresh_MissingProviderCache(t *testing.T) {
	mgr, store, _, repo := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)

	repo.mu.Lock()
	delete(repo.cache, "u1")
	repo.mu.Unlock()

	_, err = mgr.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrSessionLost)
	// the presented token was still consumed
	rec, _ := store.Get(ctx, sess.RefreshToken)
	require.Nil(t, rec)
}

func TestRefresh_ProviderRejectsSession(t *testing.T) {
	mgr, _, provider, _ := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)

	provider.refreshErr = identity.ErrSessionRejected
	_, err = mgr.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrSessionLost)
}

func TestRefresh_ProviderTimeout(t *testing.T) {
	mgr, _, provider, _ := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)

	provider.refreshErr = identity.ErrTimeout
	_, err = mgr.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrDependencyTimeout)
}

// mimics driver-level timeouts (mongo server selection, net dial) that carry
// Timeout() bool but don't unwrap to context.DeadlineExceeded
type driverTimeoutErr struct{}

func (driverTimeoutErr) Error() string { return "server selection timeout" }
func (driverTimeoutErr) Timeout() bool { return true }

func TestLogin_StoreTimeoutIsRetryable(t *testing.T) {
	mgr, store, _, _ := newTestManager()
	store.failure = driverTimeoutErr{}

	_, err := mgr.Login(context.Background(), "a@x.com", "p")
	require.ErrorIs(t, err, ErrDependencyTimeout)
}

func TestRefresh_ProviderRotatesOwnToken(t *testing.T) {
	mgr, _, provider, repo := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)

	provider.rotatedRefresh = "provider-refresh-2"
	_, err = mgr.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)

	cached, err := repo.GetRefreshCache(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "provider-refresh-2", cached)
}

func TestRefresh_ConcurrentDuplicateSingleWinner(t *testing.T) {
	mgr, store, _, _ := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)
	token := sess.RefreshToken

	var wg sync.WaitGroup
	results := make([]error, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = mgr.Refresh(ctx, token)
		}(i)
	}
	close(start)
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidToken):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins, "exactly one redemption must win")
	require.Equal(t, 1, losses, "the loser must observe an invalid token")
	// no owner ends up with two tokens minted from one redemption race
	require.Equal(t, 1, store.countForOwner("u1"))
}

func TestLogout_RevokesAllTokens(t *testing.T) {
	mgr, _, _, _ := newTestManager()
	ctx := context.Background()

	s1, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)
	s2, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)

	require.NoError(t, mgr.Logout(ctx, "u1"))
	// idempotent
	require.NoError(t, mgr.Logout(ctx, "u1"))

	for _, tok := range []string{s1.RefreshToken, s2.RefreshToken} {
		_, err := mgr.Refresh(ctx, tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestDeleteAccount(t *testing.T) {
	mgr, store, provider, repo := newTestManager()
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "a@x.com", "p")
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteAccount(ctx, "u1"))
	require.Equal(t, 0, store.countForOwner("u1"))
	require.Contains(t, provider.deletedOwners, "u1")
	p, err := repo.GetByOwnerID(ctx, "u1")
	require.NoError(t, err)
	require.False(t, p.Active)

	_, err = mgr.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	// second deletion is a no-op, not an error
	require.NoError(t, mgr.DeleteAccount(ctx, "u1"))
}

func TestMint_RetriesOnceOnCollision(t *testing.T) {
	mgr, store, _, _ := newTestManager()
	store.failure = ErrConflict

	sess, err := mgr.Login(context.Background(), "a@x.com", "p")
	require.NoError(t, err)
	require.NotEmpty(t, sess.RefreshToken)
	require.Equal(t, 1, store.countForOwner("u1"))
}

func TestRequestPasswordReset_UniformOutcome(t *testing.T) {
	mgr, _, provider, _ := newTestManager()
	ctx := context.Background()

	require.NoError(t, mgr.RequestPasswordReset(ctx, "a@x.com"))

	provider.resetErr = identity.ErrTimeout
	require.NoError(t, mgr.RequestPasswordReset(ctx, "unknown@x.com"))

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Equal(t, []string{"a@x.com", "unknown@x.com"}, provider.resetCalls)
}

func TestOAuthURL(t *testing.T) {
	mgr, _, _, _ := newTestManager()
	u, err := mgr.OAuthURL("google")
	require.NoError(t, err)
	require.Contains(t, u, "provider=google")
}
