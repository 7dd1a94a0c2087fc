package domain

import (
	"errors"
	"math/big"
	"strings"
	"time"
)

var (
	// ErrInvalidNullifier is returned when a nullifier is not a base-10 integer.
	ErrInvalidNullifier = errors.New("issuance nullifier must be an integer")
	// ErrNullifierBound is returned when the nullifier already belongs to a different phone number.
	ErrNullifierBound = errors.New("issuance nullifier is bound to a different phone number")
)

// Record binds an issuance nullifier to the phone number it was first issued for.
type Record struct {
	IssuanceNullifier string
	PhoneNumber       string
	CreatedAt         time.Time
}

// Parse validates a caller-supplied nullifier and returns its canonical decimal form.
// Arbitrary size integers are accepted; a leading "+" and leading zeros are normalized away.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidNullifier
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", ErrInvalidNullifier
	}
	return n.String(), nil
}

// WithinGrace reports whether the record was created less than graceDays before now.
func (r *Record) WithinGrace(now time.Time, graceDays int) bool {
	if r == nil || graceDays <= 0 {
		return false
	}
	return r.CreatedAt.After(now.Add(-time.Duration(graceDays) * 24 * time.Hour))
}
