package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware validates bearer tokens and loads the caller into the gin
// context. Tokens are HS256 JWTs whose subject is the user id; issuing them
// is the identity provider's job, not ours.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// RequireUser aborts with 401 unless the request carries a valid bearer
// token. Downstream handlers read the caller via c.GetString("user_id").
func (m *AuthMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be 'Bearer <token>'"})
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set("user_id", claims.Subject)
		c.Next()
	}
}

// RequireOrg resolves the organization context from the org_id query
// parameter or the X-Org-ID header. Every tenant-scoped route sits behind it;
// a request without an organization is a 400, never an unscoped query.
func RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Query("org_id")
		if orgID == "" {
			orgID = c.GetHeader("X-Org-ID")
		}
		if orgID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				gin.H{"error": "org_id query param or X-Org-ID header is required"})
			return
		}
		c.Set("org_id", orgID)
		c.Next()
	}
}
