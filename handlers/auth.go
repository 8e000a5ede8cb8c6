package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/optyhq/auth-service/internal/identity"
	"github.com/optyhq/auth-service/internal/profiles"
	"github.com/optyhq/auth-service/internal/sessions"
	"github.com/optyhq/auth-service/pkg/logger"
	"github.com/optyhq/auth-service/pkg/metrics"
	"github.com/optyhq/auth-service/pkg/middleware"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// resetResponse is deliberately identical for registered and unknown
// addresses (no account enumeration).
const resetResponse = "If this e-mail is registered, you will receive a link to reset your password."

// AuthHandler exposes the session lifecycle over HTTP
type AuthHandler struct {
	mgr *sessions.Manager
}

func NewAuthHandler(mgr *sessions.Manager) *AuthHandler {
	return &AuthHandler{mgr: mgr}
}

// Register routes under /auth. Routes touching the caller's own account go
// through the provided auth middleware.
func (h *AuthHandler) Register(rg *gin.RouterGroup, authed gin.HandlerFunc) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/forgot-password", h.ForgotPassword)
	a.GET("/oauth/:provider", h.OAuth)

	p := a.Group("", authed)
	p.POST("/logout", h.Logout)
	p.GET("/me", h.Me)
	p.DELETE("/me", h.DeleteAccount)
}

// Login authenticates against the identity provider and returns the provider
// access token plus an internally minted refresh token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.mgr.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	metrics.Logins.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, sess)
}

// Refresh redeems a refresh token once and returns the rotated pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.mgr.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(refreshOutcome(err)).Inc()
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, sess)
}

// Logout revokes every refresh token of the authenticated owner.
func (h *AuthHandler) Logout(c *gin.Context) {
	ownerID := c.GetString(middleware.OwnerKey)
	if err := h.mgr.Logout(c.Request.Context(), ownerID); err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ForgotPassword always answers 202 with the same body, whatever happened.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_ = h.mgr.RequestPasswordReset(c.Request.Context(), req.Email)
	c.JSON(http.StatusAccepted, gin.H{"message": resetResponse})
}

// OAuth returns the redirect URL starting an OAuth flow with the named
// upstream provider.
func (h *AuthHandler) OAuth(c *gin.Context) {
	u, err := h.mgr.OAuthURL(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

// Me returns the authenticated owner's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	ownerID := c.GetString(middleware.OwnerKey)
	p, err := h.mgr.Profile(c.Request.Context(), ownerID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteAccount revokes all tokens and soft-deletes the account here and at
// the provider.
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	ownerID := c.GetString(middleware.OwnerKey)
	if err := h.mgr.DeleteAccount(c.Request.Context(), ownerID); err != nil {
		logger.Errorf("account deletion failed for owner %s: %v", ownerID, err)
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

// statusForError maps the session error taxonomy onto HTTP statuses. All
// terminal token failures map to 401 so clients know to re-authenticate;
// timeouts map to 503 and may be retried.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, sessions.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid refresh token"
	case errors.Is(err, sessions.ErrExpiredToken):
		return http.StatusUnauthorized, "refresh token expired"
	case errors.Is(err, sessions.ErrSessionLost):
		return http.StatusUnauthorized, "session no longer valid, please log in again"
	case errors.Is(err, sessions.ErrDependencyTimeout):
		return http.StatusServiceUnavailable, "upstream dependency unavailable, retry later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, sessions.ErrInvalidToken):
		return "invalid"
	case errors.Is(err, sessions.ErrExpiredToken):
		return "expired"
	case errors.Is(err, sessions.ErrSessionLost):
		return "session_lost"
	case errors.Is(err, sessions.ErrDependencyTimeout):
		return "timeout"
	default:
		return "error"
	}
}
