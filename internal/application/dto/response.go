package dto

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
)

// ================================================================================
// Authentication failure
// ================================================================================

const (
	authFailedMessage        = "Authentication Failed."
	authFailedAdditionalInfo = "Please provide a valid token."
)

// AuthFailureResponse is the body returned when a fail-fast protected surface rejects a request.
type AuthFailureResponse struct {
	Status         int    `json:"status"`
	Message        string `json:"message"`
	Error          string `json:"error"`
	AdditionalInfo string `json:"additionalInfo"`
}

// NewAuthFailureResponse builds the failure body naming the token type that failed,
// e.g. "Invalid access token.".
func NewAuthFailureResponse(tokenType constants.TokenType) *AuthFailureResponse {
	return &AuthFailureResponse{
		Status:         http.StatusUnauthorized,
		Message:        authFailedMessage,
		Error:          fmt.Sprintf("Invalid %s.", tokenType.DisplayName()),
		AdditionalInfo: authFailedAdditionalInfo,
	}
}

// ================================================================================
// Generic envelope
// ================================================================================

// APIResponse wraps every other JSON response of the auth node.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorDTO   `json:"error,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorDTO describes a failed request.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse creates a success envelope.
func SuccessResponse(data interface{}, traceID string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Data:      data,
		TraceID:   traceID,
		Timestamp: time.Now().Unix(),
	}
}

// ErrorResponse creates an error envelope. Errors without a kind are reported as internal
// without leaking their text.
func ErrorResponse(err error, traceID string) *APIResponse {
	var errorDTO *ErrorDTO

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		errorDTO = &ErrorDTO{Code: string(appErr.Kind), Message: appErr.Message}
	} else {
		errorDTO = &ErrorDTO{Code: string(errors.KindInternal), Message: "Internal server error"}
	}

	return &APIResponse{
		Success:   false,
		Error:     errorDTO,
		TraceID:   traceID,
		Timestamp: time.Now().Unix(),
	}
}

// SendSuccess writes data in a success envelope.
func SendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse(data, c.GetString("trace_id")))
}

// SendError writes err in an error envelope with the status of its kind.
func SendError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
	}
	c.JSON(status, ErrorResponse(err, c.GetString("trace_id")))
}
