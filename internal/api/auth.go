package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const accountIDKey = "account_id"

// authMiddleware validates a Bearer token signed with HS256 and stores the
// account id claim on the request context. When no secret is configured the
// middleware falls back to trusting an X-Account-ID header, which keeps local
// development free of token plumbing.
func authMiddleware(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) {
			raw := c.GetHeader("X-Account-ID")
			accountID, err := uuid.Parse(raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-Account-ID header"})
				return
			}
			c.Set(accountIDKey, accountID)
			c.Next()
		}
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		sub, ok := claims[accountIDKey].(string)
		if !ok {
			sub, _ = claims["sub"].(string)
		}
		accountID, err := uuid.Parse(sub)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token carries no account id"})
			return
		}
		c.Set(accountIDKey, accountID)
		c.Next()
	}
}

func accountFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(accountIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
