package models

import (
	"context"

	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
)

// ================================================================================
// Authentication Result
// ================================================================================

// AuthenticationResult is either Authenticated{claims} or Failed{reason}.
type AuthenticationResult struct {
	claims *Claims
	err    *errors.AppError
}

// Authenticated builds a successful result.
func Authenticated(claims Claims) AuthenticationResult {
	return AuthenticationResult{claims: &claims}
}

// Failed builds a failed result. Errors without a kind are classified as internal.
func Failed(err error) AuthenticationResult {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Wrap(err, errors.KindInternal, "authentication failed")
	}
	return AuthenticationResult{err: appErr}
}

// IsAuthenticated reports success.
func (r AuthenticationResult) IsAuthenticated() bool {
	return r.claims != nil && r.err == nil
}

// Claims returns the verified claims, or the zero value on failure.
func (r AuthenticationResult) Claims() Claims {
	if r.claims == nil {
		return Claims{}
	}
	return *r.claims
}

// Reason is the failure kind; empty on success.
func (r AuthenticationResult) Reason() errors.Kind {
	if r.err == nil {
		return ""
	}
	return r.err.Kind
}

// Err returns the failure, nil on success.
func (r AuthenticationResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// ================================================================================
// Identity Context
// ================================================================================

// IdentityContext is the request-scoped caller identity consumed by business handlers.
// The zero value is the anonymous caller.
type IdentityContext struct {
	Username      string
	Email         string
	Role          string
	Authenticated bool
}

// NewIdentityContext maps verified claims to an identity.
func NewIdentityContext(c Claims) IdentityContext {
	return IdentityContext{
		Username:      c.Username,
		Email:         c.Email,
		Role:          c.Role,
		Authenticated: true,
	}
}

// HasRole reports whether the caller is authenticated with role.
func (i IdentityContext) HasRole(role string) bool {
	return i.Authenticated && i.Role == role
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id IdentityContext) context.Context {
	return context.WithValue(ctx, constants.ContextKeyIdentity, id)
}

// IdentityFromContext returns the identity stored in ctx, or the anonymous identity.
func IdentityFromContext(ctx context.Context) IdentityContext {
	if ctx == nil {
		return IdentityContext{}
	}
	id, _ := ctx.Value(constants.ContextKeyIdentity).(IdentityContext)
	return id
}
