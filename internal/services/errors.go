package services

import "errors"

var (
	// ErrValidation marks malformed or missing input. Use errors.As with
	// *ValidationError to read the detail.
	ErrValidation = errors.New("validation failed")

	ErrAssetRequired      = errors.New("an image upload is required")
	ErrUnsupportedType    = errors.New("file type not allowed")
	ErrDuplicateEmail     = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAlreadyGranted     = errors.New("user already has this role")
	ErrNotFound           = errors.New("not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
)

// ValidationError carries a client-safe description of invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationError(message string) error {
	return &ValidationError{Message: message}
}

// IsClientError reports whether err is caused by the caller rather than by
// the server.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrAssetRequired,
		ErrUnsupportedType,
		ErrDuplicateEmail,
		ErrInvalidCredentials,
		ErrAlreadyGranted,
		ErrNotFound,
		ErrUserNotFound,
		ErrRoleNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
