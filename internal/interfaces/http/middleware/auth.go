package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/sharedauth/internal/application/auth"
	"github.com/turtacn/sharedauth/internal/application/dto"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// extractBearer extracts the token from an "Authorization: Bearer <token>" header value.
func extractBearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], constants.BearerPrefix) {
		return ""
	}
	return parts[1]
}

// ExtractToken returns the raw token of tokenType carried by the request. The cookie named after
// the token type wins; otherwise the access token is read from the Authorization bearer header and
// the refresh token from X-Refresh-Token. Returns "" when the request carries none.
func ExtractToken(r *http.Request, tokenType constants.TokenType) string {
	if cookie, err := r.Cookie(tokenType.Abbreviation()); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get(tokenType.HeaderName())
	if tokenType == constants.TokenTypeAccess {
		return extractBearer(header)
	}
	return strings.TrimSpace(header)
}

// Authenticate guards a route group with policy. Under FailFast an unverifiable request is
// answered with 401 and the chain stops; under BestEffort it continues with the anonymous
// identity. The resulting identity is placed in both the gin context and the request context.
//
// Parameters:
//   - orch: orchestrator performing verification
//   - policy: FailFast or BestEffort
//   - tokenType: which token the route expects (access or refresh)
func Authenticate(orch *auth.Orchestrator, policy auth.Policy, tokenType constants.TokenType, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ExtractToken(c.Request, tokenType)
		decision := orch.Authenticate(c.Request.Context(), policy, tokenType, raw)

		if !decision.Proceed() {
			log.Debug(c.Request.Context(), "Request rejected",
				logger.String("path", c.Request.URL.Path),
				logger.String("reason", string(decision.Result.Reason())),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewAuthFailureResponse(tokenType))
			return
		}

		c.Set(string(constants.ContextKeyIdentity), decision.Identity)
		c.Request = c.Request.WithContext(models.WithIdentity(c.Request.Context(), decision.Identity))
		c.Next()
	}
}

// RequireRole stops requests whose identity does not carry role. It must run after Authenticate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityFrom(c).HasRole(role) {
			dto.SendError(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity placed by Authenticate, or the anonymous identity.
func IdentityFrom(c *gin.Context) models.IdentityContext {
	if v, ok := c.Get(string(constants.ContextKeyIdentity)); ok {
		if id, ok := v.(models.IdentityContext); ok {
			return id
		}
	}
	return models.IdentityFromContext(c.Request.Context())
}
