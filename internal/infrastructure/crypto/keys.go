// Package crypto implements signing-key rotation, the per-process trust store, and RS256 token
// issuance and verification on top of a shared public key cache.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/pkg/constants"
)

// GenerateSigningKeyPair creates an RSA-2048 key pair named by a random UUIDv4.
func GenerateSigningKeyPair(now time.Time) (*models.SigningKeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, constants.RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &models.SigningKeyPair{
		KeyID:      uuid.NewString(),
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		CreatedAt:  now,
	}, nil
}

// ================================================================================
// Options
// ================================================================================

// KeyGenerator produces a fresh signing key pair.
type KeyGenerator func(now time.Time) (*models.SigningKeyPair, error)

type options struct {
	now      func() time.Time
	metrics  *monitoring.Metrics
	auditor  service.RotationAuditor
	generate KeyGenerator
}

func newOptions(opts []Option) *options {
	o := &options{
		now:      time.Now,
		generate: GenerateSigningKeyPair,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the components of this package.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics records component metrics on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAuditor notifies a after every rotation attempt. Only KeyRotator uses it.
func WithAuditor(a service.RotationAuditor) Option {
	return func(o *options) { o.auditor = a }
}

// WithKeyGenerator replaces GenerateSigningKeyPair. Only KeyRotator uses it.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(o *options) { o.generate = g }
}
