package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"speech-translate-server/internal/domain/auth"
	"speech-translate-server/internal/platform/logging"
)

const claimsKey = "auth.claims"

// errMissingToken is returned when a request carries no bearer token.
var errMissingToken = errors.New("missing token")

// TokenFromRequest reads a bearer token from the Authorization header or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("token")
}

// Authenticator verifies the token of r. It suits the websocket upgrade check.
func Authenticator(tokens *auth.AuthToken) func(*http.Request) error {
	return func(r *http.Request) error {
		raw := TokenFromRequest(r)
		if raw == "" {
			return errMissingToken
		}
		_, err := tokens.VerifyToken(raw)
		return err
	}
}

// AuthMiddleware rejects requests without a valid token.
func AuthMiddleware(tokens *auth.AuthToken, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := TokenFromRequest(c.Request)
		if raw == "" {
			RespondError(c, http.StatusUnauthorized, "token required", nil)
			c.Abort()
			return
		}
		claims, err := tokens.VerifyToken(raw)
		if err != nil {
			logger.WarnTag("HTTP", "rejected token from %s: %v", c.ClientIP(), err)
			RespondError(c, http.StatusUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}
