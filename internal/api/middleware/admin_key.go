package middleware

import (
	"net/http"
	"os"

	"github.com/babililo/relay/internal/utils"
	"github.com/gin-gonic/gin"
)

// AdminKeyAuth guards administrative routes. The key is provisioned as
// a bcrypt hash so the environment never holds the plaintext.
func AdminKeyAuth() gin.HandlerFunc {
	hash := os.Getenv("ADMIN_KEY_HASH")

	return func(c *gin.Context) {
		if hash == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{
				Code:    utils.CodeInternal,
				Message: "ADMIN_KEY_HASH is not set",
			})
			return
		}

		key := c.GetHeader("X-Admin-Key")
		if key == "" || utils.CheckSecret(hash, key) != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: "invalid admin key",
			})
			return
		}
		c.Next()
	}
}
