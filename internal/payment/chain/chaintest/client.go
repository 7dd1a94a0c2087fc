// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"phone-verification-server/internal/payment/chain"
)

// Transfer is a value transfer sent through Client.
type Transfer struct {
	To    common.Address
	Value *big.Int
	Fees  chain.Fees
}

// Client serves transactions from a map and records transfers.
type Client struct {
	mu        sync.Mutex
	txs       map[string]*chain.Tx
	Balance   *big.Int
	Fees      chain.Fees
	Transfers []Transfer
	SendErr   error
}

func NewClient() *Client {
	return &Client{
		txs:     make(map[string]*chain.Tx),
		Balance: new(big.Int).Exp(big.NewInt(10), big.NewInt(21), nil),
		Fees:    chain.Fees{MaxFeePerGas: big.NewInt(100), MaxPriorityFeePerGas: big.NewInt(2)},
	}
}

// Put makes tx visible under its hash.
func (c *Client) Put(tx *chain.Tx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[tx.Hash] = tx
}

func (c *Client) Transaction(ctx context.Context, hash string) (*chain.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.Balance), nil
}

func (c *Client) SuggestFees(ctx context.Context) (chain.Fees, error) {
	return c.Fees, nil
}

func (c *Client) SendTransfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, fees chain.Fees) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Transfers = append(c.Transfers, Transfer{To: to, Value: new(big.Int).Set(value), Fees: fees})
	return fmt.Sprintf("0xrefund%d", len(c.Transfers)), nil
}

func (c *Client) WaitMined(ctx context.Context, hash string) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: hash, BlockHash: "0xblock", BlockNumber: 1, Status: 1}, nil
}

// SentTransfers returns a copy of the recorded transfers.
func (c *Client) SentTransfers() []Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transfer(nil), c.Transfers...)
}
