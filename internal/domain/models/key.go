package models

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"
)

// SigningKeyPair is a process's signing key. Exactly one pair is active per process; it is
// replaced wholesale on rotation, never mutated.
type SigningKeyPair struct {
	// KeyID names the public half in the shared cache and in token headers
	KeyID string
	// PrivateKey signs new tokens
	PrivateKey *rsa.PrivateKey
	// PublicKey verifies tokens signed with PrivateKey
	PublicKey *rsa.PublicKey
	// CreatedAt is when the pair was generated
	CreatedAt time.Time
}

// PublicKeyRecord is the published, immutable public half of a SigningKeyPair.
type PublicKeyRecord struct {
	// ID is the key identifier
	ID string `json:"id"`
	// GeneratedAt is the generation time in unix milliseconds
	GeneratedAt int64 `json:"generatedAt"`
	// PublicKey is the standard base64 encoding of the PKIX (X.509 SubjectPublicKeyInfo) DER bytes
	PublicKey string `json:"publicKey"`
}

// NewPublicKeyRecord builds the record published for pair.
func NewPublicKeyRecord(pair *SigningKeyPair) (*PublicKeyRecord, error) {
	encoded, err := EncodePublicKey(pair.PublicKey)
	if err != nil {
		return nil, err
	}
	return &PublicKeyRecord{
		ID:          pair.KeyID,
		GeneratedAt: pair.CreatedAt.UnixMilli(),
		PublicKey:   encoded,
	}, nil
}

// Valid reports whether the record carries an id and key material.
func (r *PublicKeyRecord) Valid() bool {
	return r != nil && r.ID != "" && r.PublicKey != ""
}

// Decode parses the key material.
func (r *PublicKeyRecord) Decode() (*rsa.PublicKey, error) {
	return DecodePublicKey(r.PublicKey)
}

// EncodePublicKey encodes an RSA public key as base64(PKIX DER).
func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey reverses EncodePublicKey.
func DecodePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return pub, nil
}
