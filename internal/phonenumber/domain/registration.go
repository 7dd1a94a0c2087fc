package domain

import "time"

// Registration records that a phone number has been used to obtain a credential.
type Registration struct {
	PhoneNumber string
	InsertedAt  time.Time
}

// RegisteredWithin reports whether the registration blocks the number at now: inserted within
// recency, and, when grace is positive, not within the last grace (so a credential can be re-fetched).
func (r *Registration) RegisteredWithin(now time.Time, recency, grace time.Duration) bool {
	if r == nil {
		return false
	}
	if !r.InsertedAt.After(now.Add(-recency)) {
		return false
	}
	if grace > 0 && r.InsertedAt.After(now.Add(-grace)) {
		return false
	}
	return true
}
