package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"phone-verification-server/internal/session/domain"
)

// MemoryRepository is an in-memory Repository with the same conditional-update semantics as
// PostgresRepository. Used by tests and by the server when DATABASE_URL is empty in development.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	nowF     func() time.Time
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*domain.Session),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return clone(s), nil
}

func (r *MemoryRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if txHash != "" && s.TxHash == txHash {
			return clone(s), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListBySigDigest(ctx context.Context, sigDigest string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.SigDigest == sigDigest {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.TxHash != "" && r.txHashTakenLocked(s.TxHash, s.ID) {
		return domain.ErrTxHashTaken
	}
	r.sessions[s.ID] = clone(s)
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, expected domain.Status, patch domain.Patch) (*domain.Session, error) {
	if err := patch.Validate(expected); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.Status != expected {
		return nil, &domain.StatusMismatchError{Actual: s.Status, Expected: expected}
	}
	if patch.TxHash != nil && *patch.TxHash != "" && r.txHashTakenLocked(*patch.TxHash, id) {
		return nil, domain.ErrTxHashTaken
	}
	patch.Apply(s)
	s.UpdatedAt = r.nowF()
	return clone(s), nil
}

func (r *MemoryRepository) ReserveAttempt(ctx context.Context, id string, max int) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.Status != domain.StatusInProgress {
		return nil, &domain.StatusMismatchError{Actual: s.Status, Expected: domain.StatusInProgress}
	}
	if s.NumAttempts >= max {
		return nil, domain.ErrAttemptsExhausted
	}
	s.NumAttempts++
	s.UpdatedAt = r.nowF()
	return clone(s), nil
}

func (r *MemoryRepository) ReleaseAttempt(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.NumAttempts > 0 {
		s.NumAttempts--
		s.UpdatedAt = r.nowF()
	}
	return nil
}

func (r *MemoryRepository) AppendPayPalOrder(ctx context.Context, id string, expected domain.Status, order domain.PayPalOrder) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.Status != expected {
		return nil, &domain.StatusMismatchError{Actual: s.Status, Expected: expected}
	}
	s.PayPal.Orders = append(s.PayPal.Orders, order)
	s.UpdatedAt = r.nowF()
	return clone(s), nil
}

func (r *MemoryRepository) txHashTakenLocked(txHash, exceptID string) bool {
	for id, s := range r.sessions {
		if id != exceptID && s.TxHash == txHash {
			return true
		}
	}
	return false
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	if s.ChainID != nil {
		id := *s.ChainID
		c.ChainID = &id
	}
	c.PayPal.Orders = append([]domain.PayPalOrder(nil), s.PayPal.Orders...)
	return &c
}
