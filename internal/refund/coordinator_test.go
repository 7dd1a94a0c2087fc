package refund

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"phone-verification-server/internal/lock"
	"phone-verification-server/internal/payment/chain"
	"phone-verification-server/internal/payment/chain/chaintest"
	"phone-verification-server/internal/payment/paypal"
	sessiondomain "phone-verification-server/internal/session/domain"
	sessionrepo "phone-verification-server/internal/session/repository"
)

const refundTo = "0x1111111111111111111111111111111111111111"

type fakePayPal struct {
	mu      sync.Mutex
	orders  map[string]*paypal.Order
	refunds []string
	status  string
}

func (f *fakePayPal) GetOrder(ctx context.Context, id string) (*paypal.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, &paypal.APIError{StatusCode: 404}
	}
	return o, nil
}

func (f *fakePayPal) RefundCapture(ctx context.Context, captureID, amount, note string) (*paypal.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, captureID+":"+amount+":"+note)
	status := f.status
	if status == "" {
		status = paypal.StatusCompleted
	}
	return &paypal.Refund{ID: "R-1", Status: status}, nil
}

type fixture struct {
	c        *Coordinator
	sessions *sessionrepo.MemoryRepository
	client   *chaintest.Client
	locker   *lock.MemoryLocker
	paypal   *fakePayPal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	reg := chain.NewRegistry(false)
	client := chaintest.NewClient()
	_ = reg.Register(chain.Optimism, client)
	_ = reg.Register(chain.Fantom, client)
	f := &fixture{
		sessions: sessionrepo.NewMemoryRepository(),
		client:   client,
		locker:   lock.NewMemoryLocker(nil),
		paypal:   &fakePayPal{orders: map[string]*paypal.Order{}},
	}
	f.c = NewCoordinator(f.sessions, reg, f.locker, f.paypal, key, nil)
	f.c.retry = chain.RetryPolicy{Attempts: 1}
	return f
}

func (f *fixture) failedOnChainSession(t *testing.T, id string, chainID int64) {
	t.Helper()
	f.client.Put(&chain.Tx{Hash: "0xpay-" + id, Value: big.NewInt(1_000_000), BlockHash: "0xb", Confirmations: 1})
	now := time.Now().UTC()
	s := &sessiondomain.Session{
		ID: id, SigDigest: "abc", Status: sessiondomain.StatusVerificationFailed,
		ChainID: &chainID, TxHash: "0xpay-" + id, CreatedAt: now, UpdatedAt: now,
	}
	if err := f.sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestRefund_OnChainOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failedOnChainSession(t, "s1", chain.Optimism)

	r, err := f.c.Refund(ctx, "s1", refundTo)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if r.TxReceipt == nil || r.TxReceipt.TxHash == "" {
		t.Fatalf("receipt = %+v", r)
	}
	sent := f.client.SentTransfers()
	if len(sent) != 1 {
		t.Fatalf("transfers = %d, want 1", len(sent))
	}
	if sent[0].Value.Int64() != 691_000 {
		t.Errorf("refund value = %s, want 691000 (69.1%%)", sent[0].Value)
	}
	if sent[0].To.Hex() != "0x1111111111111111111111111111111111111111" {
		t.Errorf("to = %s", sent[0].To.Hex())
	}
	s, _ := f.sessions.GetByID(ctx, "s1")
	if s.Status != sessiondomain.StatusRefunded || s.RefundTxHash != r.TxReceipt.TxHash {
		t.Errorf("session = %+v", s)
	}

	if _, err := f.c.Refund(ctx, "s1", refundTo); !errors.Is(err, ErrNotRefundable) {
		t.Errorf("second Refund err = %v, want ErrNotRefundable", err)
	}
	if len(f.client.SentTransfers()) != 1 {
		t.Error("second refund sent another transfer")
	}
}

func TestRefund_ConcurrentCallsTransferOnce(t *testing.T) {
	f := newFixture(t)
	f.failedOnChainSession(t, "s1", chain.Optimism)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.c.Refund(context.Background(), "s1", refundTo)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRefundInProgress), errors.Is(err, ErrNotRefundable), errors.Is(err, ErrAlreadyRefunded):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful refunds = %d, want 1", ok)
	}
	if n := len(f.client.SentTransfers()); n != 1 {
		t.Errorf("transfers = %d, want 1", n)
	}
}

func TestRefund_LockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failedOnChainSession(t, "s1", chain.Optimism)
	unlock, err := f.locker.TryAcquire(ctx, LockKey("s1"), time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if _, err := f.c.Refund(ctx, "s1", refundTo); !errors.Is(err, ErrRefundInProgress) {
		t.Fatalf("err = %v, want ErrRefundInProgress", err)
	}
	_ = unlock(ctx)
	if _, err := f.c.Refund(ctx, "s1", refundTo); err != nil {
		t.Errorf("Refund after unlock: %v", err)
	}
}

func TestRefund_ReleasesLockOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failedOnChainSession(t, "s1", chain.Optimism)
	f.client.Balance = big.NewInt(1)

	if _, err := f.c.Refund(ctx, "s1", refundTo); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	unlock, err := f.locker.TryAcquire(ctx, LockKey("s1"), time.Minute)
	if err != nil {
		t.Fatalf("lock not released after failed refund: %v", err)
	}
	_ = unlock(ctx)

	f.client.Balance = big.NewInt(0).Exp(big.NewInt(10), big.NewInt(18), nil)
	f.client.SendErr = errors.New("nonce too low")
	if _, err := f.c.Refund(ctx, "s1", refundTo); err == nil {
		t.Fatal("send failure should be returned")
	}
	s, _ := f.sessions.GetByID(ctx, "s1")
	if s.Status != sessiondomain.StatusVerificationFailed || s.RefundTxHash != "" {
		t.Errorf("session changed after failed send: %+v", s)
	}
	if _, err := f.locker.TryAcquire(ctx, LockKey("s1"), time.Minute); err != nil {
		t.Errorf("lock not released after send failure: %v", err)
	}
}

func TestRefund_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	_ = f.sessions.Create(ctx, &sessiondomain.Session{ID: "issued", Status: sessiondomain.StatusIssued, CreatedAt: now})
	_ = f.sessions.Create(ctx, &sessiondomain.Session{ID: "done", Status: sessiondomain.StatusVerificationFailed, RefundTxHash: "0xold", CreatedAt: now})
	_ = f.sessions.Create(ctx, &sessiondomain.Session{ID: "voucher", Status: sessiondomain.StatusVerificationFailed, CreatedAt: now})

	cases := []struct {
		id, to string
		want   error
	}{
		{"issued", refundTo + "1", ErrInvalidAddress},
		{"issued", "0x1234", ErrInvalidAddress},
		{"issued", "0xZZ" + strings.Repeat("1", 38), ErrInvalidAddress},
		{"missing", refundTo, sessiondomain.ErrSessionNotFound},
		{"issued", refundTo, ErrNotRefundable},
		{"done", refundTo, ErrAlreadyRefunded},
		{"voucher", refundTo, ErrNoPayment},
		{"voucher", "", ErrNoPayment},
	}
	for _, tc := range cases {
		if _, err := f.c.Refund(ctx, tc.id, tc.to); !errors.Is(err, tc.want) {
			t.Errorf("Refund(%s, %q) err = %v, want %v", tc.id, tc.to, err, tc.want)
		}
	}
	if len(f.client.SentTransfers()) != 0 {
		t.Error("guards must not move funds")
	}
}

func TestRefund_PayPal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	completed := &paypal.Order{ID: "O-2", Status: paypal.StatusCompleted, PurchaseUnits: make([]paypal.PurchaseUnit, 1)}
	completed.PurchaseUnits[0].Payments.Captures = []paypal.Capture{{ID: "C-2", Status: paypal.StatusCompleted}}
	f.paypal.orders["O-1"] = &paypal.Order{ID: "O-1", Status: "CREATED"}
	f.paypal.orders["O-2"] = completed
	_ = f.sessions.Create(ctx, &sessiondomain.Session{
		ID: "pp", Status: sessiondomain.StatusVerificationFailed, CreatedAt: time.Now(),
		PayPal: sessiondomain.PayPalData{Orders: []sessiondomain.PayPalOrder{{ID: "O-1"}, {ID: "O-2"}}},
	})

	r, err := f.c.Refund(ctx, "pp", "")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if r.PayPalRefundID != "R-1" {
		t.Errorf("receipt = %+v", r)
	}
	if len(f.paypal.refunds) != 1 || f.paypal.refunds[0] != "C-2:2.53:Failed verification" {
		t.Errorf("refunds = %v", f.paypal.refunds)
	}
	s, _ := f.sessions.GetByID(ctx, "pp")
	if s.Status != sessiondomain.StatusRefunded {
		t.Errorf("status = %s", s.Status)
	}
}

func TestRefund_PayPalNotCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := &paypal.Order{ID: "O-1", Status: paypal.StatusCompleted, PurchaseUnits: make([]paypal.PurchaseUnit, 1)}
	o.PurchaseUnits[0].Payments.Captures = []paypal.Capture{{ID: "C-1", Status: paypal.StatusCompleted}}
	f.paypal.orders["O-1"] = o
	f.paypal.status = "PENDING"
	_ = f.sessions.Create(ctx, &sessiondomain.Session{
		ID: "pp", Status: sessiondomain.StatusVerificationFailed, CreatedAt: time.Now(),
		PayPal: sessiondomain.PayPalData{Orders: []sessiondomain.PayPalOrder{{ID: "O-1"}}},
	})
	if _, err := f.c.Refund(ctx, "pp", ""); !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("err = %v, want ErrRefundFailed", err)
	}
	s, _ := f.sessions.GetByID(ctx, "pp")
	if s.Status != sessiondomain.StatusVerificationFailed {
		t.Errorf("status = %s, want unchanged", s.Status)
	}
}

func TestDefaultFeePolicy(t *testing.T) {
	suggested := chain.Fees{MaxFeePerGas: big.NewInt(100), MaxPriorityFeePerGas: big.NewInt(10)}
	got := DefaultFeePolicy.Fees(chain.Fantom, suggested)
	if got.MaxFeePerGas.Int64() != 200 || got.MaxPriorityFeePerGas.Int64() != 140 {
		t.Errorf("fantom fees = %s/%s, want 200/140", got.MaxFeePerGas, got.MaxPriorityFeePerGas)
	}
	capped := DefaultFeePolicy.Fees(chain.Fantom, chain.Fees{MaxFeePerGas: big.NewInt(10), MaxPriorityFeePerGas: big.NewInt(5)})
	if capped.MaxPriorityFeePerGas.Cmp(capped.MaxFeePerGas) != 0 {
		t.Errorf("tip %s should be capped at max fee %s", capped.MaxPriorityFeePerGas, capped.MaxFeePerGas)
	}
	if other := DefaultFeePolicy.Fees(chain.Optimism, suggested); other.MaxFeePerGas.Int64() != 100 || other.MaxPriorityFeePerGas.Int64() != 10 {
		t.Errorf("optimism fees changed: %+v", other)
	}
	if suggested.MaxFeePerGas.Int64() != 100 {
		t.Error("policy mutated the suggested fees")
	}

	f := newFixture(t)
	f.failedOnChainSession(t, "ftm", chain.Fantom)
	if _, err := f.c.Refund(context.Background(), "ftm", refundTo); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	sent := f.client.SentTransfers()
	if sent[0].Fees.MaxFeePerGas.Int64() != 200 || sent[0].Fees.MaxPriorityFeePerGas.Int64() != 28 {
		t.Errorf("fantom refund fees = %+v", sent[0].Fees)
	}
}
