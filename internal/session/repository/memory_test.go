package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"phone-verification-server/internal/session/domain"
)

func newSession(id, sigDigest string, status domain.Status) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{ID: id, SigDigest: sigDigest, Status: status, CreatedAt: now, UpdatedAt: now}
}

func TestMemoryRepository_GetByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	s, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if s != nil {
		t.Errorf("GetByID = %+v, want nil", s)
	}
}

func TestMemoryRepository_Update_ConditionalOnStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	if err := repo.Create(ctx, newSession("s1", "abc", domain.StatusNeedsPayment)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := repo.Update(ctx, "s1", domain.StatusInProgress, domain.Patch{Status: domain.StatusPtr(domain.StatusIssued)})
	var mismatch *domain.StatusMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Update with wrong expected status: err = %v, want StatusMismatchError", err)
	}
	if mismatch.Actual != domain.StatusNeedsPayment || mismatch.Expected != domain.StatusInProgress {
		t.Errorf("mismatch = %+v", mismatch)
	}

	s, _ := repo.GetByID(ctx, "s1")
	if s.Status != domain.StatusNeedsPayment {
		t.Errorf("Status after failed update = %q, want unchanged", s.Status)
	}

	updated, err := repo.Update(ctx, "s1", domain.StatusNeedsPayment, domain.Patch{Status: domain.StatusPtr(domain.StatusInProgress)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != domain.StatusInProgress {
		t.Errorf("Status = %q, want %q", updated.Status, domain.StatusInProgress)
	}
}

func TestMemoryRepository_Update_RejectsEdgesOutsideGraph(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		from domain.Status
		to   domain.Status
	}{
		{domain.StatusNeedsPayment, domain.StatusIssued},
		{domain.StatusNeedsPayment, domain.StatusRefunded},
		{domain.StatusInProgress, domain.StatusNeedsPayment},
		{domain.StatusIssued, domain.StatusVerificationFailed},
		{domain.StatusIssued, domain.StatusInProgress},
		{domain.StatusRefunded, domain.StatusVerificationFailed},
		{domain.StatusVerificationFailed, domain.StatusIssued},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			repo := NewMemoryRepository()
			_ = repo.Create(ctx, newSession("s1", "abc", tc.from))
			_, err := repo.Update(ctx, "s1", tc.from, domain.Patch{Status: domain.StatusPtr(tc.to)})
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("err = %v, want ErrInvalidTransition", err)
			}
			s, _ := repo.GetByID(ctx, "s1")
			if s.Status != tc.from {
				t.Errorf("Status = %q, want unchanged %q", s.Status, tc.from)
			}
		})
	}
}

func TestMemoryRepository_Update_UnknownID(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.Update(context.Background(), "nope", domain.StatusNeedsPayment, domain.Patch{})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryRepository_TxHashUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newSession("s1", "a", domain.StatusNeedsPayment))
	_ = repo.Create(ctx, newSession("s2", "b", domain.StatusNeedsPayment))
	tx := "0xfeed"
	patch := domain.Patch{Status: domain.StatusPtr(domain.StatusInProgress), TxHash: &tx}
	if _, err := repo.Update(ctx, "s1", domain.StatusNeedsPayment, patch); err != nil {
		t.Fatalf("Update s1: %v", err)
	}
	if _, err := repo.Update(ctx, "s2", domain.StatusNeedsPayment, patch); !errors.Is(err, domain.ErrTxHashTaken) {
		t.Fatalf("Update s2: err = %v, want ErrTxHashTaken", err)
	}
	got, _ := repo.GetByTxHash(ctx, tx)
	if got == nil || got.ID != "s1" {
		t.Errorf("GetByTxHash = %+v, want s1", got)
	}
}

func TestMemoryRepository_ConcurrentUpdate_OneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newSession("s1", "abc", domain.StatusInProgress))

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "s1", domain.StatusInProgress, domain.Patch{Status: domain.StatusPtr(domain.StatusIssued)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrStatusMismatch):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != workers-1 {
		t.Errorf("wins = %d, conflicts = %d; want 1 and %d", wins, conflicts, workers-1)
	}
}

func TestMemoryRepository_ListBySigDigest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	first := newSession("s1", "abc", domain.StatusNeedsPayment)
	second := newSession("s2", "abc", domain.StatusNeedsPayment)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	_ = repo.Create(ctx, second)
	_ = repo.Create(ctx, first)
	_ = repo.Create(ctx, newSession("s3", "other", domain.StatusNeedsPayment))

	list, err := repo.ListBySigDigest(ctx, "abc")
	if err != nil {
		t.Fatalf("ListBySigDigest: %v", err)
	}
	if len(list) != 2 || list[0].ID != "s1" || list[1].ID != "s2" {
		t.Errorf("ListBySigDigest = %v", ids(list))
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newSession("s1", "abc", domain.StatusNeedsPayment))
	s, _ := repo.GetByID(ctx, "s1")
	s.Status = domain.StatusIssued
	again, _ := repo.GetByID(ctx, "s1")
	if again.Status != domain.StatusNeedsPayment {
		t.Error("mutating a returned session changed stored state")
	}
}

func TestMemoryRepository_ReserveAttempt_Capped(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newSession("s1", "abc", domain.StatusInProgress))

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		reserved  int
		exhausted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ReserveAttempt(ctx, "s1", 3)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				reserved++
			case errors.Is(err, domain.ErrAttemptsExhausted):
				exhausted++
			default:
				t.Errorf("ReserveAttempt: %v", err)
			}
		}()
	}
	wg.Wait()
	if reserved != 3 || exhausted != workers-3 {
		t.Errorf("reserved = %d, exhausted = %d", reserved, exhausted)
	}

	if err := repo.ReleaseAttempt(ctx, "s1"); err != nil {
		t.Fatalf("ReleaseAttempt: %v", err)
	}
	s, err := repo.ReserveAttempt(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("ReserveAttempt after release: %v", err)
	}
	if s.NumAttempts != 3 {
		t.Errorf("NumAttempts = %d, want 3", s.NumAttempts)
	}

	_ = repo.Create(ctx, newSession("s2", "abc", domain.StatusNeedsPayment))
	if _, err := repo.ReserveAttempt(ctx, "s2", 3); !errors.Is(err, domain.ErrStatusMismatch) {
		t.Errorf("ReserveAttempt on unpaid session: err = %v, want ErrStatusMismatch", err)
	}
	if _, err := repo.ReserveAttempt(ctx, "missing", 3); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("ReserveAttempt on missing session: err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryRepository_AppendPayPalOrder_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newSession("s1", "abc", domain.StatusNeedsPayment))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order := domain.PayPalOrder{ID: "ORDER-" + string(rune('A'+i)), CreatedAt: "0"}
			if _, err := repo.AppendPayPalOrder(ctx, "s1", domain.StatusNeedsPayment, order); err != nil {
				t.Errorf("AppendPayPalOrder: %v", err)
			}
		}(i)
	}
	wg.Wait()

	s, _ := repo.GetByID(ctx, "s1")
	if len(s.PayPal.Orders) != workers {
		t.Errorf("orders = %d, want %d", len(s.PayPal.Orders), workers)
	}

	_, _ = repo.Update(ctx, "s1", domain.StatusNeedsPayment, domain.Patch{Status: domain.StatusPtr(domain.StatusInProgress)})
	_, err := repo.AppendPayPalOrder(ctx, "s1", domain.StatusNeedsPayment, domain.PayPalOrder{ID: "late"})
	if !errors.Is(err, domain.ErrStatusMismatch) {
		t.Errorf("AppendPayPalOrder after payment: err = %v, want ErrStatusMismatch", err)
	}
}

func ids(list []*domain.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
