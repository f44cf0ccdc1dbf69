package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docRender/internal/auth"
)

const (
	publisherIDKey        = "publisherID"
	mustChangePasswordKey = "mustChangePassword"
)

// TokenValidator 校验访问令牌。
type TokenValidator interface {
	ValidateToken(token string) (*auth.TokenClaims, error)
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware 校验发布者访问令牌并将 publisherID 注入上下文。
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil || claims.PublisherID == 0 {
			abortUnauthorized(c)
			return
		}

		c.Set(publisherIDKey, claims.PublisherID)
		c.Set(mustChangePasswordKey, claims.MustChangePassword)
		c.Next()
	}
}

// PublisherIDFromContext 返回已认证的发布者 ID。
func PublisherIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get(publisherIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok && id != 0
}
