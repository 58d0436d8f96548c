package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const consumerIDKey = "consumerID"

// Middleware rejects requests without a valid bearer token and stores the
// consumer id on the request context.
func Middleware(security *Security) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		consumerID, err := security.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(consumerIDKey, consumerID.String())
		c.Next()
	}
}

// ConsumerID returns the authenticated consumer id set by Middleware.
func ConsumerID(c *gin.Context) string {
	return c.GetString(consumerIDKey)
}
