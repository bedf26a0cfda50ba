// README: Bearer token auth middleware; exposes the verified caller to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/infra"
)

const (
	ctxKeyToken = "auth.token"
	ctxKeyUID   = "auth.uid"
	ctxKeyRole  = "auth.role"
)

// Auth verifies the bearer token and stores the caller on the context.
// Websocket clients cannot set headers, so an access_token query parameter
// is accepted as well.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized", "message": "missing bearer token"})
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || tok == nil || tok.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized", "message": "invalid token"})
			return
		}
		c.Set(ctxKeyToken, tok)
		c.Set(ctxKeyUID, tok.UID)
		c.Set(ctxKeyRole, tok.Role())
		c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "forbidden", "message": "role " + role + " not allowed"})
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// CallerToken returns the verified token, or nil outside Auth.
func CallerToken(c *gin.Context) *infra.Token {
	v, ok := c.Get(ctxKeyToken)
	if !ok {
		return nil
	}
	tok, _ := v.(*infra.Token)
	return tok
}

// Privileged reports whether the caller is an admin or an internal service.
func Privileged(c *gin.Context) bool {
	role := CallerRole(c)
	return role == infra.RoleAdmin || role == infra.RoleInternal
}
