package handlers

import (
	"net/http"
	"time"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/pkg/constants"
)

// SetTokenCookie writes token into the cookie named after its type ("at" or "rt").
// Max-Age is the token's remaining validity at now, so the browser drops the cookie no later
// than the token expires.
func SetTokenCookie(w http.ResponseWriter, cfg config.CookieConfig, token *models.IssuedToken, now time.Time) {
	maxAge := int(token.ExpiresAt.Sub(now) / time.Second)
	if maxAge <= 0 {
		// a zero Max-Age would be sent without the attribute and outlive the token
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     token.Type.Abbreviation(),
		Value:    token.Value,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSiteMode(),
	})
}

// ClearTokenCookies expires both token cookies.
func ClearTokenCookies(w http.ResponseWriter, cfg config.CookieConfig) {
	for _, tokenType := range []constants.TokenType{constants.TokenTypeAccess, constants.TokenTypeRefresh} {
		http.SetCookie(w, &http.Cookie{
			Name:     tokenType.Abbreviation(),
			Value:    "",
			Path:     "/",
			Domain:   cfg.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: cfg.SameSiteMode(),
		})
	}
}
