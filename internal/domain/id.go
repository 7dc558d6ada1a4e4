package domain

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for application-owned entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidateID reports whether s is a well-formed UUID.
func ValidateID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return ErrValidation("invalid id %q", s)
	}
	return nil
}
