package crypto

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

const verificationResultAuthenticated = "authenticated"

var _ service.TokenVerifier = (*TokenVerifier)(nil)

// TokenVerifier validates compact RS256 tokens against a KeyResolver.
type TokenVerifier struct {
	keys      service.KeyResolver
	validator *jwt.Validator
	metrics   *monitoring.Metrics
	log       logger.Logger
}

// NewTokenVerifier creates a TokenVerifier. Only RS256 is accepted and exp is mandatory.
func NewTokenVerifier(keys service.KeyResolver, log logger.Logger, opts ...Option) *TokenVerifier {
	o := newOptions(opts)
	return &TokenVerifier{
		keys: keys,
		validator: jwt.NewValidator(
			jwt.WithTimeFunc(o.now),
			jwt.WithExpirationRequired(),
		),
		metrics: o.metrics,
		log:     log.WithComponent("token_verifier"),
	}
}

// Verify checks, in order: token shape, key id header, key resolution, signature, expiry and
// required claims. The first failing step decides the failure kind. Verify has no side effect
// besides populating the trust store's local keys.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) models.AuthenticationResult {
	ctx, span := monitoring.StartSpan(ctx, "TokenVerifier.Verify")
	claims, err := v.verify(ctx, rawToken)
	monitoring.EndSpan(span, err)

	if err != nil {
		kind := errors.KindOf(err)
		v.metrics.RecordVerification(string(kind))
		v.log.Debug(ctx, "Token verification failed",
			logger.String("kind", string(kind)),
			logger.Error(err),
		)
		return models.Failed(err)
	}

	v.metrics.RecordVerification(verificationResultAuthenticated)
	return models.Authenticated(claims)
}

func (v *TokenVerifier) verify(ctx context.Context, rawToken string) (models.Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return models.Claims{}, errors.ErrMissingToken
	}

	// 1. shape: three base64url segments
	segments := strings.Split(rawToken, ".")
	if len(segments) != 3 {
		return models.Claims{}, errors.New(errors.KindMalformedToken, "token must have 3 segments, got %d", len(segments))
	}
	decoded := make([][]byte, len(segments))
	for i, seg := range segments {
		b, err := base64.RawURLEncoding.DecodeString(seg)
		if err != nil {
			return models.Claims{}, errors.Wrap(err, errors.KindMalformedToken, "segment %d is not base64url", i)
		}
		decoded[i] = b
	}

	// 2. header with a key id
	var header map[string]interface{}
	if err := json.Unmarshal(decoded[0], &header); err != nil {
		return models.Claims{}, errors.Wrap(err, errors.KindMalformedToken, "token header is not JSON")
	}
	kid, ok := header[constants.HeaderKeyID].(string)
	if !ok || strings.TrimSpace(kid) == "" {
		return models.Claims{}, errors.New(errors.KindMalformedToken, "token header carries no key id")
	}

	// 3. key resolution
	pub, err := v.keys.GetPublicKey(ctx, kid)
	if err != nil {
		return models.Claims{}, err
	}

	// 4. RS256 signature over header.payload, before the payload is trusted
	if alg, _ := header["alg"].(string); alg != constants.AlgorithmRS256 {
		return models.Claims{}, errors.New(errors.KindInvalidSignature, "unsupported algorithm %q", alg)
	}
	signingString := segments[0] + "." + segments[1]
	if err := jwt.SigningMethodRS256.Verify(signingString, decoded[2], pub); err != nil {
		return models.Claims{}, errors.Wrap(err, errors.KindInvalidSignature, "signature verification failed")
	}

	// 5. expiry, on a payload the key holder signed
	parsed := &tokenClaims{}
	if err := json.Unmarshal(decoded[1], parsed); err != nil {
		return models.Claims{}, errors.Wrap(err, errors.KindMalformedToken, "token payload is not JSON")
	}
	if err := v.validator.Validate(parsed); err != nil {
		return models.Claims{}, classify(err)
	}

	// 6. identity claims
	claims := parsed.identity()
	if !claims.HasRequired() {
		return models.Claims{}, errors.New(errors.KindMissingRequiredClaim, "username and role are required")
	}
	return claims, nil
}

// classify maps a claims validation error onto the failure taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Wrap(err, errors.KindExpiredToken, "token expired")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return errors.Wrap(err, errors.KindMissingRequiredClaim, "token has no expiry")
	default:
		return errors.Wrap(err, errors.KindMalformedToken, "invalid token")
	}
}
