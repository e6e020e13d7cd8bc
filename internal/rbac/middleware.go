package rbac

import (
	"net/http"

	"github.com/StreallyX/callastar-sub000/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireBookingScope enforces that the verified token is scoped to the
// booking named in the route. A valid token for another booking must not open
// someone else's call.
func RequireBookingScope(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bid, err := auth.BookingID(c.Request.Context())
		if err != nil || bid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "booking_id required"})
			return
		}
		if routeID := c.Param(param); routeID != "" && routeID != bid {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
