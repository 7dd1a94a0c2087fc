package repository

import (
	"context"

	"phone-verification-server/internal/session/domain"
)

// Repository defines persistence for verification sessions.
type Repository interface {
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetByTxHash returns the session paid with txHash, or nil if none.
	GetByTxHash(ctx context.Context, txHash string) (*domain.Session, error)
	// ListBySigDigest returns every session created with sigDigest, oldest first.
	ListBySigDigest(ctx context.Context, sigDigest string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Update applies patch only if the stored status equals expected and returns the updated session.
	// Returns *domain.StatusMismatchError when the status differs, domain.ErrSessionNotFound for an
	// unknown id, and domain.ErrTxHashTaken when the patch would reuse another session's tx hash.
	Update(ctx context.Context, id string, expected domain.Status, patch domain.Patch) (*domain.Session, error)
	// ReserveAttempt increments num_attempts of an IN_PROGRESS session that is below max, in one
	// conditional write. Returns domain.ErrAttemptsExhausted at the cap and *domain.StatusMismatchError
	// for any other status.
	ReserveAttempt(ctx context.Context, id string, max int) (*domain.Session, error)
	// ReleaseAttempt gives back a reserved attempt whose code was never sent.
	ReleaseAttempt(ctx context.Context, id string) error
	// AppendPayPalOrder adds order to the session's orders if its status is expected. Concurrent
	// appends all persist.
	AppendPayPalOrder(ctx context.Context, id string, expected domain.Status, order domain.PayPalOrder) (*domain.Session, error)
}
