package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/config"
)

const (
	AccountIDKey = "account_id"
	UsernameKey  = "username"
	TokenKey     = "token"
)

// SessionKey is the cache key marking token as signed in.
func SessionKey(token string) string { return "session:" + token }

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// Authenticate validates token against the secret and the session cache.
// The returned message is suitable for a 401 body.
func Authenticate(ctx context.Context, token string, sec config.SecurityConfig, c cache.Cache) (*Claims, string) {
	if token == "" {
		return nil, "missing token"
	}
	claims, err := ParseToken(token, sec.JWTSecret)
	if err != nil {
		return nil, "invalid token"
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	exists, err := c.Exists(cacheCtx, SessionKey(token))
	if err != nil || !exists {
		return nil, "session expired"
	}
	return claims, ""
}

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := BearerToken(ctx)
		claims, msg := Authenticate(ctx.Request.Context(), token, sec, c)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		ctx.Set(AccountIDKey, claims.AccountID)
		ctx.Set(UsernameKey, claims.Username)
		ctx.Set(TokenKey, token)
		ctx.Next()
	}
}

// GetAccountID retrieves the authenticated account ID from the Gin context.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetUsername retrieves the authenticated username from the Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
