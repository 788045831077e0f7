package auth

import (
	"crypto/subtle"
	"errors"
	"os"
)

// ErrInvalidServiceToken is returned when a service token does not match.
var ErrInvalidServiceToken = errors.New("invalid service token")

// GetServiceToken returns the configured service-to-service token.
func GetServiceToken() string {
	return os.Getenv("SERVICE_TOKEN")
}

// ValidateServiceToken compares a presented token against the expected one.
func ValidateServiceToken(presented, expected string) error {
	if expected == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		return ErrInvalidServiceToken
	}
	return nil
}
