// Package utils provides request validation helpers.
package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/sharedauth/pkg/errors"
)

var defaultValidator *validator.Validate

var rolePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

func init() {
	defaultValidator = validator.New()
	// Register custom validation functions
	_ = defaultValidator.RegisterValidation("notblank", validateNotBlank)
	_ = defaultValidator.RegisterValidation("role", validateRole)
}

// ValidateStruct validates a struct using the default validator.
// It returns an InvalidArgument AppError listing every failed field.
func ValidateStruct(s interface{}) *errors.AppError {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, errors.KindInvalidArgument, "invalid request")
	}

	details := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		details = append(details, fmt.Sprintf("%s %s", toSnakeCase(fe.Field()), formatValidationError(fe)))
	}
	return errors.New(errors.KindInvalidArgument, "invalid request: %s", strings.Join(details, "; "))
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return ValidateNotEmpty(fl.Field().String())
}

// validateRole accepts upper-case role names such as USER or ADMIN.
func validateRole(fl validator.FieldLevel) bool {
	return rolePattern.MatchString(fl.Field().String())
}

// formatValidationError creates a user-friendly error message for a validation error.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "role":
		return "must be an upper-case role name"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

// toSnakeCase converts a string from CamelCase to snake_case.
// This is used to format field names in the validation error response.
func toSnakeCase(str string) string {
	var matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	var matchAllCap = regexp.MustCompile("([a-z0-9])([A-Z])")
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}

// ValidateNotEmpty checks if a string is not empty.
func ValidateNotEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

//Personal.AI order the ending
