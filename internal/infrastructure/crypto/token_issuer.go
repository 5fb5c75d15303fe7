package crypto

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// tokenClaims is the JWT payload: iat, exp and the identity claims.
type tokenClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) identity() models.Claims {
	return models.Claims{Username: c.Username, Email: c.Email, Role: c.Role}
}

var _ service.TokenIssuer = (*TokenIssuer)(nil)

// TokenIssuer signs RS256 tokens with the active signing key.
type TokenIssuer struct {
	keys    service.SigningKeyProvider
	cfg     *config.JWTConfig
	now     func() time.Time
	metrics *monitoring.Metrics
	log     logger.Logger
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(keys service.SigningKeyProvider, cfg *config.JWTConfig, log logger.Logger, opts ...Option) *TokenIssuer {
	o := newOptions(opts)
	return &TokenIssuer{
		keys:    keys,
		cfg:     cfg,
		now:     o.now,
		metrics: o.metrics,
		log:     log.WithComponent("token_issuer"),
	}
}

// Issue signs a token of tokenType carrying claims. The active pair is captured once, so a
// rotation racing with Issue never mixes the key id of one pair with the signature of another.
//
// Returns:
//   - *models.IssuedToken: compact token plus the remaining validity for cookie Max-Age
//   - error: MissingRequiredClaim for blank username/role, NoActiveKey before the first rotation
func (i *TokenIssuer) Issue(ctx context.Context, tokenType constants.TokenType, claims models.Claims) (*models.IssuedToken, error) {
	ctx, span := monitoring.StartSpan(ctx, "TokenIssuer.Issue")
	token, err := i.issue(tokenType, claims)
	monitoring.EndSpan(span, err)
	if err != nil {
		i.log.Warn(ctx, "Token issuance failed",
			logger.String("token_type", tokenType.Abbreviation()),
			logger.Error(err),
		)
		return nil, err
	}

	i.metrics.RecordTokenIssued(tokenType.Abbreviation())
	i.log.Debug(ctx, "Token issued",
		logger.String("token_type", tokenType.Abbreviation()),
		logger.String("key_id", token.KeyID),
		logger.String("username", claims.Username),
	)
	return token, nil
}

func (i *TokenIssuer) issue(tokenType constants.TokenType, claims models.Claims) (*models.IssuedToken, error) {
	if !claims.HasRequired() {
		return nil, errors.New(errors.KindMissingRequiredClaim, "username and role are required")
	}
	validity, err := i.cfg.Validity(tokenType)
	if err != nil {
		return nil, err
	}
	pair, err := i.keys.ActiveSigningKey()
	if err != nil {
		return nil, err
	}

	// JWT NumericDate has second precision
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(validity)

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodRS256, &tokenClaims{
		Username: claims.Username,
		Email:    claims.Email,
		Role:     claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	jwtToken.Header[constants.HeaderKeyID] = pair.KeyID

	signed, err := jwtToken.SignedString(pair.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to sign %s", tokenType.DisplayName())
	}

	return &models.IssuedToken{
		Value:     signed,
		Type:      tokenType,
		KeyID:     pair.KeyID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		MaxAge:    expiresAt.Sub(issuedAt),
	}, nil
}
