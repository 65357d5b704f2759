// Package uuid generates local record identifiers and idempotency keys.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Canonical lowercase or uppercase 8-4-4-4-12 form with RFC 4122 variant bits.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-8][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a random UUID v4, used for idempotency keys.
func New() string {
	return uuid.New().String()
}

// NewLocalID generates a time-ordered UUID v7. Local ids are never reused
// and sort roughly by creation time.
func NewLocalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Parse parses s as a UUID of any version.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	return id, nil
}

// IsValid checks if s is a UUID in canonical dashed form.
func IsValid(s string) bool {
	return uuidRegex.MatchString(s)
}

// Validate returns an error if s is not a valid UUID.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
