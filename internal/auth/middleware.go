package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

// SessionHeader is the non-standard token header accepted alongside
// Authorization: Bearer.
const SessionHeader = "X-Nolan-Session"

// exempt paths never require a token.
func exempt(path string) bool {
	return path == "/api/health" || strings.HasPrefix(path, "/api/auth/")
}

// TokenFromRequest extracts the session token from the request headers.
// Tokens are never read from query parameters.
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.GetHeader(SessionHeader)
}

// Middleware rejects unauthenticated requests when auth is required.
func Middleware(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if exempt(c.Request.URL.Path) || !s.Required() {
			c.Next()
			return
		}
		if !s.ValidToken(TokenFromRequest(c)) {
			err := apperr.Unauthorized("a valid session token is required")
			c.AbortWithStatusJSON(apperr.HTTPStatus(err.Code), err)
			return
		}
		c.Next()
	}
}
