// Package identity resolves the numeric user id of a request from a signed bearer token.
// Token issuance lives with the account service.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const contextKey = "user_id"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// ParseToken validates an HS256 token and returns its user_id claim.
func ParseToken(secret []byte, raw string) (domain.UserID, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 {
		return 0, fmt.Errorf("%w: no user_id claim", ErrInvalidToken)
	}
	return domain.UserID(id), nil
}

// bearer reads the Authorization header, falling back to the access_token query
// parameter because browsers cannot set headers on websocket upgrades.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return c.Query("access_token")
}

func Middleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		id, err := ParseToken(secret, raw)
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.identity").Msg("rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		c.Set(contextKey, id)
		c.Next()
	}
}

// UserID returns the id resolved by Middleware.
func UserID(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(domain.UserID)
	return id, ok
}
