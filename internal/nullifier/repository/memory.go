package repository

import (
	"context"
	"sync"

	"phone-verification-server/internal/nullifier/domain"
)

// MemoryRepository is an in-memory nullifier Repository.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]domain.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]domain.Record)}
}

func (r *MemoryRepository) Get(ctx context.Context, nullifier string) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[nullifier]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryRepository) Bind(ctx context.Context, rec *domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.IssuanceNullifier]; ok && existing.PhoneNumber != rec.PhoneNumber {
		return domain.ErrNullifierBound
	}
	r.records[rec.IssuanceNullifier] = *rec
	return nil
}
