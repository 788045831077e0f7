// Package billing holds money helpers and the shared error taxonomy of the
// credit ledgers.
package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is returned when a deduction would overdraw a
	// balance. Maps to HTTP 402.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrPoolUnderfunded is returned when the platform pool cannot cover a
	// free-tier grant.
	ErrPoolUnderfunded = errors.New("platform pool underfunded")

	// ErrInvalidAmount is returned for zero or negative monetary amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrBalanceNotFound is returned when an org has no credit balance.
	ErrBalanceNotFound = errors.New("credit balance not found")
)

// FormatCents renders integer cents as a dollar amount for logs and alerts.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
