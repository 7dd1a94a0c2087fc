package repository

import (
	"context"

	"phone-verification-server/internal/phonenumber/domain"
)

// Repository defines persistence for phone number registrations.
type Repository interface {
	// Get returns the registration for number, or nil if not found.
	Get(ctx context.Context, number string) (*domain.Registration, error)
	// Put inserts or replaces the registration.
	Put(ctx context.Context, reg *domain.Registration) error
	// Delete removes the registration and reports whether one existed.
	Delete(ctx context.Context, number string) (bool, error)
}
