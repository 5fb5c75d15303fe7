// Package service declares the contracts between the token components and their collaborators.
package service

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/pkg/constants"
)

// DistributedKeyCache is the TTL-capable store shared by every service instance.
//
// Get returns an error of kind KeyNotFound when the record is absent or expired and
// CacheUnavailable on I/O failure or timeout. Put never overwrites an existing keyID.
type DistributedKeyCache interface {
	Put(ctx context.Context, keyID string, record *models.PublicKeyRecord, ttl time.Duration) error
	Get(ctx context.Context, keyID string) (*models.PublicKeyRecord, error)
}

// KeyResolver resolves a keyID to its public key.
type KeyResolver interface {
	GetPublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, error)
}

// SigningKeyProvider exposes the active signing key.
type SigningKeyProvider interface {
	ActiveSigningKey() (*models.SigningKeyPair, error)
}

// TokenIssuer signs new tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, tokenType constants.TokenType, claims models.Claims) (*models.IssuedToken, error)
}

// TokenVerifier validates inbound tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) models.AuthenticationResult
}

// KeyRotator replaces the active signing key.
type KeyRotator interface {
	Rotate(ctx context.Context) (*models.SigningKeyPair, error)
}

// RotationAuditor is notified of every rotation attempt.
type RotationAuditor interface {
	RecordRotation(ctx context.Context, event models.AuditEvent) error
}
