package repository

import (
	"context"
	"time"

	"phone-verification-server/internal/voucher/domain"
)

// Repository defines persistence for vouchers.
type Repository interface {
	// GetByID returns the voucher for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Voucher, error)
	// ExistsForTxHash reports whether any voucher was generated from txHash.
	ExistsForTxHash(ctx context.Context, txHash string) (bool, error)
	// CreateBatch stores all vouchers or none.
	CreateBatch(ctx context.Context, vouchers []*domain.Voucher) error
	// Redeem marks the voucher redeemed by sessionID if it is not redeemed yet.
	// Redeeming again for the same session is a no-op. Returns domain.ErrVoucherNotFound or
	// domain.ErrVoucherRedeemed otherwise.
	Redeem(ctx context.Context, id, sessionID string, at time.Time) error
}
