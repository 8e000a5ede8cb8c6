package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SupabaseClient talks to a GoTrue-style auth REST API. All calls are bounded
// by the configured HTTP client timeout in addition to the caller's context.
type SupabaseClient struct {
	baseURL    string // e.g. https://proj.supabase.co/auth/v1
	apiKey     string
	serviceKey string
	httpClient *http.Client
}

// NewSupabaseClient builds a client for the given project URL. The /auth/v1
// path segment is appended when missing so both forms of URL work.
func NewSupabaseClient(projectURL, apiKey, serviceKey string, timeout time.Duration) *SupabaseClient {
	base := strings.TrimRight(projectURL, "/")
	if !strings.HasSuffix(base, "/auth/v1") {
		base += "/auth/v1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SupabaseClient{
		baseURL:    base,
		apiKey:     apiKey,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type tokenGrantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

func (c *SupabaseClient) SignInWithPassword(ctx context.Context, email, password string) (*Credentials, error) {
	body := map[string]string{"email": email, "password": password}
	var tr tokenGrantResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/token?grant_type=password", c.apiKey, "", body, &tr)
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusUnprocessableEntity {
		return nil, ErrInvalidCredentials
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("identity: password grant returned %d", status)
	}
	if tr.User == nil || tr.AccessToken == "" {
		return nil, fmt.Errorf("identity: password grant returned no session")
	}
	return &Credentials{
		OwnerID:      tr.User.ID,
		Email:        tr.User.Email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}, nil
}

func (c *SupabaseClient) RefreshSession(ctx context.Context, refreshToken string) (*Credentials, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var tr tokenGrantResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/token?grant_type=refresh_token", c.apiKey, "", body, &tr)
	if err != nil {
		return nil, err
	}
	if status >= 400 && status < 500 {
		return nil, ErrSessionRejected
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("identity: session refresh returned %d", status)
	}
	if tr.AccessToken == "" {
		return nil, ErrSessionRejected
	}
	creds := &Credentials{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}
	if tr.User != nil {
		creds.OwnerID = tr.User.ID
		creds.Email = tr.User.Email
	}
	return creds, nil
}

func (c *SupabaseClient) OAuthURL(provider string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("identity: empty oauth provider")
	}
	return c.baseURL + "/authorize?provider=" + url.QueryEscape(provider), nil
}

func (c *SupabaseClient) SendPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	status, err := c.doJSON(ctx, http.MethodPost, "/recover", c.apiKey, "", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("identity: recover returned %d", status)
	}
	return nil
}

func (c *SupabaseClient) UserFromToken(ctx context.Context, accessToken string) (*User, error) {
	var u User
	status, err := c.doJSON(ctx, http.MethodGet, "/user", c.apiKey, accessToken, nil, &u)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("identity: user lookup returned %d", status)
	}
	if u.ID == "" {
		return nil, nil
	}
	return &u, nil
}

func (c *SupabaseClient) SoftDeleteUser(ctx context.Context, ownerID string) error {
	body := map[string]bool{"should_soft_delete": true}
	status, err := c.doJSON(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(ownerID), c.serviceKey, c.serviceKey, body, nil)
	if err != nil {
		return err
	}
	// 404 means the identity is already gone; deletion is idempotent
	if status == http.StatusNotFound {
		return nil
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("identity: admin delete returned %d", status)
	}
	return nil
}

// doJSON performs one request and decodes a JSON response when out is non-nil.
// Error responses (4xx) are reported through the returned status code so each
// operation can map them; transport failures and deadline exhaustion become
// ErrTimeout or a wrapped transport error.
func (c *SupabaseClient) doJSON(ctx context.Context, method, path, apiKey, bearer string, in, out interface{}) (int, error) {
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("apikey", apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return 0, fmt.Errorf("identity: request failed: %w", err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 400 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("identity: decode response: %w", err)
		}
	} else {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	}
	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
