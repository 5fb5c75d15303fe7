// Package constants defines system-wide constants shared by the token library and the auth node.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Token Type Constants
// ================================================================================

// TokenType identifies which credential artifact a token is.
type TokenType string

const (
	// TokenTypeAccess is the short-lived access token, stored in the "at" cookie
	TokenTypeAccess TokenType = "at"

	// TokenTypeRefresh is the long-lived refresh token, stored in the "rt" cookie
	TokenTypeRefresh TokenType = "rt"
)

// Abbreviation returns the cookie/storage identifier of the token type.
func (t TokenType) Abbreviation() string {
	return string(t)
}

// DisplayName returns a human readable name used in error responses ("access token").
func (t TokenType) DisplayName() string {
	switch t {
	case TokenTypeAccess:
		return "access token"
	case TokenTypeRefresh:
		return "refresh token"
	default:
		return "token"
	}
}

// HeaderName returns the request header that may carry the token when no cookie is present.
func (t TokenType) HeaderName() string {
	if t == TokenTypeRefresh {
		return HeaderRefreshToken
	}
	return HeaderAuthorization
}

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// ================================================================================
// JWT Constants
// ================================================================================

const (
	// AlgorithmRS256 is the only signing algorithm issued and accepted
	AlgorithmRS256 = "RS256"

	// RSAKeyBits is the modulus size of every generated signing key
	RSAKeyBits = 2048

	// HeaderKeyID is the JOSE header carrying the signing key identifier
	HeaderKeyID = "kid"

	// ClaimUsername is the custom username claim
	ClaimUsername = "username"

	// ClaimEmail is the custom email claim
	ClaimEmail = "email"

	// ClaimRole is the custom role claim
	ClaimRole = "role"
)

// ================================================================================
// Transport Constants
// ================================================================================

const (
	// HeaderAuthorization carries "Bearer <access token>"
	HeaderAuthorization = "Authorization"

	// HeaderRefreshToken carries a raw refresh token
	HeaderRefreshToken = "X-Refresh-Token"

	// HeaderRequestID is propagated into logs
	HeaderRequestID = "X-Request-ID"

	// BearerPrefix is the authorization scheme for access tokens
	BearerPrefix = "Bearer"

	// RoleAdmin is the role allowed to trigger manual key rotation
	RoleAdmin = "ADMIN"
)

// ================================================================================
// Cache Constants
// ================================================================================

const (
	// PublicKeysPool is the single namespace under which public key records are published
	PublicKeysPool = "public-keys-pool"

	// DefaultCacheTimeout bounds every call to the shared key cache
	DefaultCacheTimeout = 2 * time.Second
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type of request-scoped context keys.
type ContextKey string

const (
	// ContextKeyIdentity holds the models.IdentityContext of the caller
	ContextKeyIdentity ContextKey = "identity"

	// ContextKeyRequestID holds the request id
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyLogger holds a request-scoped logger
	ContextKeyLogger ContextKey = "logger"
)

// ================================================================================
// Defaults
// ================================================================================

const (
	// AccessTokenDefaultTTL is the default lifetime for access tokens (15 minutes)
	AccessTokenDefaultTTL = 15 * time.Minute

	// RefreshTokenDefaultTTL is the default lifetime for refresh tokens (7 days)
	RefreshTokenDefaultTTL = 7 * 24 * time.Hour

	// RotationDefaultInterval is the default signing key rotation period
	RotationDefaultInterval = time.Hour
)

// ================================================================================
// Audit Event Types
// ================================================================================

// AuditEventType names an audit event emitted by the key rotator.
type AuditEventType string

const (
	// AuditEventKeyRotated is emitted after a published key has been promoted
	AuditEventKeyRotated AuditEventType = "key.rotated"

	// AuditEventKeyRotationFailed is emitted when a rotation aborted
	AuditEventKeyRotationFailed AuditEventType = "key.rotation_failed"
)
