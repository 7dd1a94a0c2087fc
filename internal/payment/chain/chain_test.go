package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestLookup_DevOnlyChain(t *testing.T) {
	if _, ok := Lookup(OptimismGoerli, false); ok {
		t.Error("optimism-goerli should not be accepted outside development")
	}
	c, ok := Lookup(OptimismGoerli, true)
	if !ok || c.Token != ETH {
		t.Errorf("Lookup(420, dev) = %+v, %v", c, ok)
	}
	if c, _ := Lookup(Fantom, false); c.Token != FTM {
		t.Errorf("fantom token = %s", c.Token)
	}
	if c, _ := Lookup(Avalanche, false); c.Token != AVAX {
		t.Errorf("avalanche token = %s", c.Token)
	}
	if _, ok := Lookup(56, true); ok {
		t.Error("chain 56 should be unsupported")
	}
}

func TestSupportedIDs(t *testing.T) {
	prod := SupportedIDs(false)
	want := []int64{Ethereum, Optimism, Fantom, Base, Avalanche, Aurora}
	if len(prod) != len(want) {
		t.Fatalf("SupportedIDs(false) = %v", prod)
	}
	for i := range want {
		if prod[i] != want[i] {
			t.Fatalf("SupportedIDs(false) = %v, want %v", prod, want)
		}
	}
	if len(SupportedIDs(true)) != len(want)+1 {
		t.Errorf("SupportedIDs(true) = %v", SupportedIDs(true))
	}
}

type scriptedClient struct {
	answers []func() (*Tx, error)
	calls   int
}

func (c *scriptedClient) Transaction(ctx context.Context, hash string) (*Tx, error) {
	i := c.calls
	c.calls++
	if i >= len(c.answers) {
		i = len(c.answers) - 1
	}
	return c.answers[i]()
}
func (c *scriptedClient) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return nil, nil
}
func (c *scriptedClient) SuggestFees(context.Context) (Fees, error) { return Fees{}, nil }
func (c *scriptedClient) SendTransfer(context.Context, *ecdsa.PrivateKey, common.Address, *big.Int, Fees) (string, error) {
	return "", nil
}
func (c *scriptedClient) WaitMined(context.Context, string) (*Receipt, error) { return nil, nil }

var fastRetry = RetryPolicy{Attempts: 5, Min: time.Millisecond, Max: 2 * time.Millisecond}

func TestFetchTransaction_RetriesUntilFound(t *testing.T) {
	c := &scriptedClient{answers: []func() (*Tx, error){
		func() (*Tx, error) { return nil, errors.New("rpc hiccup") },
		func() (*Tx, error) { return nil, nil },
		func() (*Tx, error) { return &Tx{Hash: "0x1"}, nil },
	}}
	tx, err := FetchTransaction(context.Background(), c, "0x1", fastRetry)
	if err != nil {
		t.Fatalf("FetchTransaction: %v", err)
	}
	if tx.Hash != "0x1" || c.calls != 3 {
		t.Errorf("tx = %+v, calls = %d", tx, c.calls)
	}
}

func TestFetchTransaction_GivesUp(t *testing.T) {
	c := &scriptedClient{answers: []func() (*Tx, error){
		func() (*Tx, error) { return nil, nil },
	}}
	_, err := FetchTransaction(context.Background(), c, "0x1", fastRetry)
	if !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("err = %v, want ErrTxNotFound", err)
	}
	if c.calls != 5 {
		t.Errorf("calls = %d, want 5", c.calls)
	}

	failing := &scriptedClient{answers: []func() (*Tx, error){
		func() (*Tx, error) { return nil, errors.New("boom") },
	}}
	if _, err := FetchTransaction(context.Background(), failing, "0x1", fastRetry); err == nil || errors.Is(err, ErrTxNotFound) {
		t.Errorf("persistent rpc error: err = %v", err)
	}
}

func TestFetchTransaction_ContextCancelled(t *testing.T) {
	c := &scriptedClient{answers: []func() (*Tx, error){
		func() (*Tx, error) { return nil, nil },
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FetchTransaction(ctx, c, "0x1", RetryPolicy{Attempts: 5, Min: time.Hour, Max: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(false)
	if err := r.Register(OptimismGoerli, &scriptedClient{}); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("Register(420) err = %v", err)
	}
	if err := r.Register(Optimism, &scriptedClient{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Client(Optimism); err != nil {
		t.Errorf("Client(10): %v", err)
	}
	if _, err := r.Client(Ethereum); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("Client(1) without endpoint err = %v", err)
	}
	if _, err := r.Info(99); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("Info(99) err = %v", err)
	}
}
