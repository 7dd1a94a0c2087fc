package repository

import (
	"context"
	"testing"
	"time"

	"phone-verification-server/internal/phonenumber/domain"
)

func TestMemoryRepository_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	at := time.UnixMilli(1700000000000).UTC()

	if err := repo.Put(ctx, &domain.Registration{PhoneNumber: "+15555550100", InsertedAt: at}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	reg, err := repo.Get(ctx, "+15555550100")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if reg == nil || !reg.InsertedAt.Equal(at) {
		t.Errorf("Get = %+v, want InsertedAt %v", reg, at)
	}

	deleted, err := repo.Delete(ctx, "+15555550100")
	if err != nil || !deleted {
		t.Errorf("Delete = %v, %v; want true, nil", deleted, err)
	}
	deleted, _ = repo.Delete(ctx, "+15555550100")
	if deleted {
		t.Error("second Delete should report false")
	}
	if reg, _ := repo.Get(ctx, "+15555550100"); reg != nil {
		t.Errorf("Get after delete = %+v, want nil", reg)
	}
}
