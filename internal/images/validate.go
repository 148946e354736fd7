package images

import (
	"fmt"
	"regexp"
)

// ValidationError marks malformed or missing input. Handlers map it to a
// client error; anything else on the upload path is a server error.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,}$`)

// ValidateUserID checks the user id format: alphanumeric plus "_" and
// "-", minimum 3 characters.
func ValidateUserID(userID string) error {
	if userID == "" {
		return NewValidationError("missing user_id parameter")
	}
	if !userIDPattern.MatchString(userID) {
		return NewValidationError("invalid user_id format: must be alphanumeric and at least 3 characters")
	}
	return nil
}
