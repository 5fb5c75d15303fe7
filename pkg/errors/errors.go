// Package errors defines the error kinds of the authentication subsystem.
// Expected failure modes (key not found, invalid signature, ...) are values of Kind carried by
// *AppError, so every call site can switch on them instead of relying on panics or string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ================================================================================
// Error Kinds
// ================================================================================

// Kind classifies an AppError.
type Kind string

const (
	// KindMalformedToken: the token is not three base64url segments or its header is unusable
	KindMalformedToken Kind = "malformed_token"
	// KindKeyNotFound: the kid resolves neither locally nor in the shared cache (includes expired keys)
	KindKeyNotFound Kind = "key_not_found"
	// KindInvalidSignature: the signature does not match header+payload
	KindInvalidSignature Kind = "invalid_signature"
	// KindExpiredToken: exp is not after now
	KindExpiredToken Kind = "expired_token"
	// KindMissingRequiredClaim: username or role is missing or blank
	KindMissingRequiredClaim Kind = "missing_required_claim"
	// KindMissingToken: the request carried no token at all
	KindMissingToken Kind = "missing_token"
	// KindPublishFailure: rotation could not write the new public key
	KindPublishFailure Kind = "publish_failure"
	// KindCacheUnavailable: I/O error or timeout against the shared cache
	KindCacheUnavailable Kind = "cache_unavailable"
	// KindNoActiveKey: no signing key has been promoted yet
	KindNoActiveKey Kind = "no_active_key"
	// KindRotationInProgress: a rotation is already running
	KindRotationInProgress Kind = "rotation_in_progress"
	// KindInvalidArgument: caller supplied an invalid argument
	KindInvalidArgument Kind = "invalid_argument"
	// KindForbidden: the caller is authenticated but lacks the required role
	KindForbidden Kind = "forbidden"
	// KindRateLimited: the caller exceeded its request budget
	KindRateLimited Kind = "rate_limited"
	// KindInternal: unexpected failure
	KindInternal Kind = "internal"
)

// httpStatus maps each kind to the status used when it escapes to a transport.
var httpStatus = map[Kind]int{
	KindMalformedToken:       http.StatusUnauthorized,
	KindKeyNotFound:          http.StatusUnauthorized,
	KindInvalidSignature:     http.StatusUnauthorized,
	KindExpiredToken:         http.StatusUnauthorized,
	KindMissingRequiredClaim: http.StatusUnauthorized,
	KindMissingToken:         http.StatusUnauthorized,
	KindPublishFailure:       http.StatusServiceUnavailable,
	KindCacheUnavailable:     http.StatusServiceUnavailable,
	KindNoActiveKey:          http.StatusServiceUnavailable,
	KindRotationInProgress:   http.StatusConflict,
	KindInvalidArgument:      http.StatusBadRequest,
	KindForbidden:            http.StatusForbidden,
	KindRateLimited:          http.StatusTooManyRequests,
	KindInternal:             http.StatusInternalServerError,
}

// HTTPStatus returns the transport status for the kind.
func (k Kind) HTTPStatus() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// IsAuthenticationFailure reports whether the kind is a verification outcome rather than an
// infrastructure failure.
func (k Kind) IsAuthenticationFailure() bool {
	return k.HTTPStatus() == http.StatusUnauthorized
}

// ================================================================================
// AppError
// ================================================================================

// AppError is a structured error with a kind and an optional cause.
type AppError struct {
	Kind    Kind
	Message string
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches another *AppError of the same kind, so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// WithError returns a copy of e carrying cause.
func (e *AppError) WithError(cause error) *AppError {
	return &AppError{Kind: e.Kind, Message: e.Message, cause: cause}
}

// ================================================================================
// Constructors
// ================================================================================

// New creates an AppError of the given kind.
func New(kind Kind, format string, args ...interface{}) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Kind: kind, Message: msg}
}

// Wrap creates an AppError of the given kind around cause.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *AppError {
	return New(kind, format, args...).WithError(cause)
}

// KindOf returns the kind of the first AppError in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err's chain contains an AppError of kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Is and As re-export the standard helpers so callers need a single errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// ================================================================================
// Sentinels
// ================================================================================

var (
	// ErrKeyNotFound is returned when a public key cannot be resolved
	ErrKeyNotFound = New(KindKeyNotFound, "public key not found")
	// ErrNoActiveKey is returned before the first rotation succeeded
	ErrNoActiveKey = New(KindNoActiveKey, "no active signing key")
	// ErrRotationInProgress is returned when rotations would overlap
	ErrRotationInProgress = New(KindRotationInProgress, "key rotation already in progress")
	// ErrMissingToken is returned when a request carries no token
	ErrMissingToken = New(KindMissingToken, "token not found in request")
	// ErrForbidden is returned when the caller's role does not permit the operation
	ErrForbidden = New(KindForbidden, "insufficient role")
	// ErrRateLimited is returned when a caller exhausts its request budget
	ErrRateLimited = New(KindRateLimited, "too many requests")
)
