// Package chain reads payment transactions and sends refunds on the supported EVM chains.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a chain's native currency.
type Token string

const (
	ETH  Token = "ETH"
	FTM  Token = "FTM"
	AVAX Token = "AVAX"
)

// Chain ids.
const (
	Ethereum       int64 = 1
	Optimism       int64 = 10
	Fantom         int64 = 250
	OptimismGoerli int64 = 420
	Base           int64 = 8453
	Avalanche      int64 = 43114
	Aurora         int64 = 1313161554
)

var ErrUnsupportedChain = errors.New("unsupported chain id")

// Info describes a supported chain.
type Info struct {
	ID      int64
	Name    string
	Token   Token
	DevOnly bool
}

var chains = map[int64]Info{
	Ethereum:       {ID: Ethereum, Name: "ethereum", Token: ETH},
	Optimism:       {ID: Optimism, Name: "optimism", Token: ETH},
	Fantom:         {ID: Fantom, Name: "fantom", Token: FTM},
	Base:           {ID: Base, Name: "base", Token: ETH},
	Avalanche:      {ID: Avalanche, Name: "avalanche", Token: AVAX},
	Aurora:         {ID: Aurora, Name: "aurora", Token: ETH},
	OptimismGoerli: {ID: OptimismGoerli, Name: "optimism-goerli", Token: ETH, DevOnly: true},
}

// Lookup returns the chain for id. Dev-only chains are found only when dev is true.
func Lookup(id int64, dev bool) (Info, bool) {
	c, ok := chains[id]
	if !ok || (c.DevOnly && !dev) {
		return Info{}, false
	}
	return c, true
}

// SupportedIDs returns the accepted chain ids in ascending order.
func SupportedIDs(dev bool) []int64 {
	var ids []int64
	for id, c := range chains {
		if !c.DevOnly || dev {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Tx is the view of a transaction the payment checks need.
type Tx struct {
	Hash  string
	To    string
	Value *big.Int
	Data  []byte
	// BlockHash is empty while the transaction is pending.
	BlockHash     string
	Confirmations uint64
}

// Receipt is the result of a mined transfer.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockHash   string `json:"blockHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Status      uint64 `json:"status"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Fees are EIP-1559 fee caps in wei.
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Client is one chain's RPC surface.
type Client interface {
	// Transaction returns the transaction for hash, or nil if the node does not know it.
	Transaction(ctx context.Context, hash string) (*Tx, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	SuggestFees(ctx context.Context) (Fees, error)
	// SendTransfer signs and submits a plain value transfer and returns its hash.
	SendTransfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, fees Fees) (string, error)
	// WaitMined blocks until the transaction is mined or ctx is done.
	WaitMined(ctx context.Context, hash string) (*Receipt, error)
}
