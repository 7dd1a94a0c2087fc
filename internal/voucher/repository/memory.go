package repository

import (
	"context"
	"sync"
	"time"

	"phone-verification-server/internal/voucher/domain"
)

// MemoryRepository is an in-memory voucher Repository.
type MemoryRepository struct {
	mu       sync.Mutex
	vouchers map[string]*domain.Voucher
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{vouchers: make(map[string]*domain.Voucher)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok {
		return nil, nil
	}
	c := *v
	return &c, nil
}

func (r *MemoryRepository) ExistsForTxHash(ctx context.Context, txHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.vouchers {
		if v.TxHash == txHash {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CreateBatch(ctx context.Context, vouchers []*domain.Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range vouchers {
		c := *v
		r.vouchers[v.ID] = &c
	}
	return nil
}

func (r *MemoryRepository) Redeem(ctx context.Context, id, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok {
		return domain.ErrVoucherNotFound
	}
	if v.IsRedeemed {
		return redeemOutcome(v, sessionID)
	}
	v.IsRedeemed = true
	v.SessionID = sessionID
	v.RedeemedAt = &at
	return nil
}
