package dto

import (
	"time"

	"github.com/turtacn/sharedauth/internal/domain/models"
)

// IssueTokenRequest asks for a token pair carrying the given identity.
type IssueTokenRequest struct {
	Username string `json:"username" validate:"required,notblank,max=128"`
	Email    string `json:"email" validate:"omitempty,email,max=256"`
	Role     string `json:"role" validate:"required,role,max=64"`
}

// Claims converts the request to token claims.
func (r *IssueTokenRequest) Claims() models.Claims {
	return models.Claims{Username: r.Username, Email: r.Email, Role: r.Role}
}

// TokenPairResponse carries a freshly issued access and refresh token.
type TokenPairResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	KeyID            string `json:"key_id"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	IssuedAt         int64  `json:"issued_at"`
}

// NewTokenPairResponse converts an issued pair.
func NewTokenPairResponse(access, refresh *models.IssuedToken) *TokenPairResponse {
	return &TokenPairResponse{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		TokenType:        "Bearer",
		KeyID:            access.KeyID,
		ExpiresIn:        int64(access.MaxAge / time.Second),
		RefreshExpiresIn: int64(refresh.MaxAge / time.Second),
		IssuedAt:         access.IssuedAt.Unix(),
	}
}

// IdentityResponse describes the caller.
type IdentityResponse struct {
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// NewIdentityResponse converts an IdentityContext.
func NewIdentityResponse(id models.IdentityContext) *IdentityResponse {
	return &IdentityResponse{
		Username:      id.Username,
		Email:         id.Email,
		Role:          id.Role,
		Authenticated: id.Authenticated,
	}
}

// RotationResponse describes the key promoted by a manual rotation.
type RotationResponse struct {
	KeyID     string    `json:"key_id"`
	CreatedAt time.Time `json:"created_at"`
}
