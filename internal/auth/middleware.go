package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxAdminClaims = "paperledger_admin_claims"

// RequireAdmin returns a Gin middleware that enforces a valid admin
// Bearer token. A nil issuer yields a no-op middleware: the deployment
// runs in open mode with no admin secret configured.
//
// On success it injects the *Claims into the context.
func RequireAdmin(tokens *TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "admin Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxAdminClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the admin claims injected by RequireAdmin,
// or nil when the request was not authenticated.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxAdminClaims)
	claims, _ := v.(*Claims)
	return claims
}
