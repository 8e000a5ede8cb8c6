package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// OwnerKey is the gin context key under which the authenticated subject id is
// stored by AuthMiddleware.
const OwnerKey = "owner_id"

// Authenticator validates a provider-issued access token and resolves the
// owner id behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (ownerID string, err error)
}

// HS256Authenticator verifies provider access tokens locally using the shared
// project JWT secret the provider signs them with.
type HS256Authenticator struct {
	secret []byte
}

func NewHS256Authenticator(secret string) *HS256Authenticator {
	return &HS256Authenticator{secret: []byte(secret)}
}

func (a *HS256Authenticator) Authenticate(_ context.Context, accessToken string) (string, error) {
	tok, err := jwt.Parse(accessToken, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// AuthenticatorFunc adapts a plain function (e.g. a remote user-info lookup
// against the identity provider) into an Authenticator.
type AuthenticatorFunc func(ctx context.Context, accessToken string) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, accessToken string) (string, error) {
	return f(ctx, accessToken)
}

// AuthMiddleware returns a Gin middleware that validates Bearer tokens with
// the given authenticator and stores the owner id on the request context.
func AuthMiddleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		var token string
		if n, _ := fmt.Sscanf(auth, "Bearer %s", &token); n != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}
		ownerID, err := a.Authenticate(c.Request.Context(), token)
		if err != nil || ownerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(OwnerKey, ownerID)
		c.Next()
	}
}
