package models

// ValidationError reports an invalid domain value.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func errInvalid(msg string) error {
	return &ValidationError{Message: msg}
}
