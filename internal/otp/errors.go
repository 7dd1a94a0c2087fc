package otp

import (
	"errors"
	"fmt"
)

// Sentinel errors for OTP begin and verify. The HTTP layer maps them to 429 and 400.
var (
	ErrTooManyAttemptsForCountry = errors.New("too many recent attempts from country")
	ErrOTPNotFound               = errors.New("OTP not found")
	ErrOTPMismatch               = errors.New("OTP does not match")
)

// CountryRateLimitError is returned by Begin when the per-country window is exhausted.
type CountryRateLimitError struct {
	Country string
}

func (e *CountryRateLimitError) Error() string {
	return fmt.Sprintf("Too many recent attempts from country %s", e.Country)
}

func (e *CountryRateLimitError) Is(target error) bool {
	return target == ErrTooManyAttemptsForCountry
}
