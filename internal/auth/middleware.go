package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const identityKey = "identity"

// Middleware authenticates the bearer credential and stores the identity
// on the gin context.
func Middleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credential"})
			return
		}
		id, err := a.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidCredential) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
				return
			}
			logrus.WithError(err).Error("identity verification failed")
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "identity service unavailable"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireRole gates a route group to the listed roles.
func RequireRole(roles ...Role) gin.HandlerFunc {
	allowed := map[Role]bool{}
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok || !allowed[id.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// RequireStaff gates a route group to any staff role.
func RequireStaff() gin.HandlerFunc {
	return RequireRole(RoleWaiter, RoleKitchen, RoleAdmin, RoleSuperAdmin)
}

func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func bearerToken(h string) string {
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
