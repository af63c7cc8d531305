package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const claimsContextKey = "auth_claims"

// Middleware rejects unauthenticated requests before they reach protected
// handlers. A missing credential and a bad credential produce distinct
// statuses: 401 when no token is present, 403 when one fails verification.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrNoCredential.Error()})
			return
		}
		claims, err := s.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// ClaimsFromContext retrieves the verified identity stored by the middleware.
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	val, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*Claims)
	return claims, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return header
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
