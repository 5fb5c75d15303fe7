// Package service provides application-level services that orchestrate the token components
package service

import (
	"context"

	"github.com/turtacn/sharedauth/internal/application/dto"
	"github.com/turtacn/sharedauth/internal/domain/models"
	domainService "github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
	"github.com/turtacn/sharedauth/pkg/utils"
)

// TokenPair is an access token and a refresh token issued together.
type TokenPair struct {
	Access  *models.IssuedToken
	Refresh *models.IssuedToken
}

// TokenAppService defines the token use cases of the auth node
type TokenAppService interface {
	// IssuePair issues an access and a refresh token for the requested identity
	IssuePair(ctx context.Context, req *dto.IssueTokenRequest) (*TokenPair, error)

	// Refresh reissues both tokens for a caller authenticated by its refresh token
	Refresh(ctx context.Context, identity models.IdentityContext) (*TokenPair, error)

	// RotateKeys triggers an immediate signing key rotation
	RotateKeys(ctx context.Context) (*dto.RotationResponse, error)
}

// tokenAppServiceImpl is the concrete implementation of TokenAppService
type tokenAppServiceImpl struct {
	issuer  domainService.TokenIssuer
	rotator domainService.KeyRotator
	logger  logger.Logger
}

// NewTokenAppService creates a new instance of TokenAppService
func NewTokenAppService(
	issuer domainService.TokenIssuer,
	rotator domainService.KeyRotator,
	log logger.Logger,
) TokenAppService {
	return &tokenAppServiceImpl{
		issuer:  issuer,
		rotator: rotator,
		logger:  log.WithComponent("token_app_service"),
	}
}

// IssuePair validates req and issues a token pair
func (s *tokenAppServiceImpl) IssuePair(ctx context.Context, req *dto.IssueTokenRequest) (*TokenPair, error) {
	if req == nil {
		return nil, errors.New(errors.KindInvalidArgument, "request body is required")
	}
	if verr := utils.ValidateStruct(req); verr != nil {
		s.logger.Warn(ctx, "Invalid issue token request", logger.Error(verr))
		return nil, verr
	}
	pair, err := s.issuePair(ctx, req.Claims())
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Token pair issued",
		logger.String("username", req.Username),
		logger.String("role", req.Role),
		logger.String("key_id", pair.Access.KeyID),
	)
	return pair, nil
}

// Refresh reissues both tokens with the caller's claims
func (s *tokenAppServiceImpl) Refresh(ctx context.Context, identity models.IdentityContext) (*TokenPair, error) {
	if !identity.Authenticated {
		return nil, errors.ErrMissingToken
	}
	return s.issuePair(ctx, models.Claims{
		Username: identity.Username,
		Email:    identity.Email,
		Role:     identity.Role,
	})
}

func (s *tokenAppServiceImpl) issuePair(ctx context.Context, claims models.Claims) (*TokenPair, error) {
	access, err := s.issuer.Issue(ctx, constants.TokenTypeAccess, claims)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issuer.Issue(ctx, constants.TokenTypeRefresh, claims)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// RotateKeys rotates the signing key now
func (s *tokenAppServiceImpl) RotateKeys(ctx context.Context) (*dto.RotationResponse, error) {
	pair, err := s.rotator.Rotate(ctx)
	if err != nil {
		s.logger.Error(ctx, "Manual key rotation failed", err)
		return nil, err
	}
	s.logger.Info(ctx, "Manual key rotation completed", logger.String("key_id", pair.KeyID))
	return &dto.RotationResponse{KeyID: pair.KeyID, CreatedAt: pair.CreatedAt}, nil
}
