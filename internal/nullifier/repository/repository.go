package repository

import (
	"context"

	"phone-verification-server/internal/nullifier/domain"
)

// Repository defines persistence for nullifier records.
type Repository interface {
	// Get returns the record for nullifier, or nil if not found.
	Get(ctx context.Context, nullifier string) (*domain.Record, error)
	// Bind stores rec, or refreshes CreatedAt if the nullifier is already bound to the same number.
	// Returns domain.ErrNullifierBound if it is bound to a different number.
	Bind(ctx context.Context, rec *domain.Record) error
}
