package repository

import (
	"context"
	"sync"

	"phone-verification-server/internal/phonenumber/domain"
)

// MemoryRepository is an in-memory phone number Repository.
type MemoryRepository struct {
	mu   sync.Mutex
	regs map[string]domain.Registration
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{regs: make(map[string]domain.Registration)}
}

func (r *MemoryRepository) Get(ctx context.Context, number string) (*domain.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[number]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

func (r *MemoryRepository) Put(ctx context.Context, reg *domain.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[reg.PhoneNumber] = *reg
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, number string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regs[number]
	delete(r.regs, number)
	return ok, nil
}
