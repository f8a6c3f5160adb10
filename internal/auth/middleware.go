package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const CtxClaimsKey = "auth_claims"

var ErrInvalidToken = errors.New("invalid token")

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(header[len("Bearer "):])
	return raw, raw != ""
}

// Authenticate verifies raw and, when repo is set, that the token has
// not been revoked by a logout or password change. Shared by the HTTP
// middleware and the gRPC interceptor.
func Authenticate(ctx context.Context, tokens TokenService, repo *Repo, raw string) (*Claims, error) {
	claims, err := tokens.Parse(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if repo != nil {
		currentVersion, err := repo.GetTokenVersion(ctx, claims.UserID)
		if err != nil || currentVersion != claims.TokenVersion {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

func AuthMiddleware(tokens TokenService, repo *Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := Authenticate(c.Request.Context(), tokens, repo, raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
