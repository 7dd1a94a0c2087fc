package otp

import (
	"context"
	"time"
)

// Store holds one code per key with a TTL.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Take deletes key if accept approves its value, as one atomic step. found is false when the key
	// is missing, expired, or was taken by a concurrent caller. A rejected value stays stored.
	Take(ctx context.Context, key string, accept func(stored string) bool) (found, accepted bool, err error)
}

// Counter is a fixed-window counter.
type Counter interface {
	// Incr increments key and returns the new count. A key without an expiry is given window as
	// its TTL, so the count resets once window has elapsed since the first hit.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

func codeKey(phoneNumber string) string {
	return "OTP:" + phoneNumber
}

func minuteKey(country string) string {
	return "country_requests_minutes:minute:" + country
}

func hourKey(country string) string {
	return "country_requests_minutes:hour:" + country
}
