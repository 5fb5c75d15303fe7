package models

import (
	"strings"
	"time"

	"github.com/turtacn/sharedauth/pkg/constants"
)

// Claims is the identity payload carried by every token.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// HasRequired reports whether username and role are present and non-blank.
func (c Claims) HasRequired() bool {
	return strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Role) != ""
}

// IssuedToken is a signed compact token plus what callers need to place it in a cookie.
type IssuedToken struct {
	Value     string
	Type      constants.TokenType
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// MaxAge is the remaining validity at issuance, used as cookie Max-Age
	MaxAge time.Duration
}
