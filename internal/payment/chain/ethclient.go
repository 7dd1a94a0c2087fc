package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jpillora/backoff"
)

// transferGas is the gas limit of a plain value transfer to an EOA.
const transferGas = 21000

// EthClient implements Client over a JSON-RPC endpoint with go-ethereum's ethclient.
type EthClient struct {
	chainID *big.Int
	rpc     *ethclient.Client
	poll    backoff.Backoff
}

// DialEthClient connects to url for chain id.
func DialEthClient(ctx context.Context, id int64, url string) (*EthClient, error) {
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewEthClient(id, rpc), nil
}

// NewEthClient wraps an existing ethclient connection.
func NewEthClient(id int64, rpc *ethclient.Client) *EthClient {
	return &EthClient{
		chainID: big.NewInt(id),
		rpc:     rpc,
		poll:    backoff.Backoff{Min: time.Second, Max: 15 * time.Second, Factor: 1.5, Jitter: true},
	}
}

// Transaction fetches the transaction and, once mined, its confirmation depth.
func (c *EthClient) Transaction(ctx context.Context, hash string) (*Tx, error) {
	h := common.HexToHash(hash)
	tx, pending, err := c.rpc.TransactionByHash(ctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := &Tx{Hash: h.Hex(), Value: tx.Value(), Data: tx.Data()}
	if to := tx.To(); to != nil {
		out.To = to.Hex()
	}
	if pending {
		return out, nil
	}
	receipt, err := c.rpc.TransactionReceipt(ctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return out, nil
		}
		return nil, err
	}
	head, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	out.BlockHash = receipt.BlockHash.Hex()
	if mined := receipt.BlockNumber.Uint64(); head >= mined {
		out.Confirmations = head - mined + 1
	}
	return out, nil
}

func (c *EthClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.rpc.BalanceAt(ctx, addr, nil)
}

// SuggestFees returns tip = eth_maxPriorityFeePerGas and maxFee = 2*baseFee + tip.
func (c *EthClient) SuggestFees(ctx context.Context) (Fees, error) {
	tip, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return Fees{}, err
	}
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return Fees{}, err
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	maxFee := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	return Fees{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

func (c *EthClient) SendTransfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, fees Fees) (string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return "", err
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       transferGas,
		To:        &to,
		Value:     value,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", err
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// WaitMined polls for the receipt with backoff until it exists or ctx ends.
func (c *EthClient) WaitMined(ctx context.Context, hash string) (*Receipt, error) {
	h := common.HexToHash(hash)
	b := c.poll
	for {
		r, err := c.rpc.TransactionReceipt(ctx, h)
		if err == nil {
			return &Receipt{
				TxHash:      r.TxHash.Hex(),
				BlockHash:   r.BlockHash.Hex(),
				BlockNumber: r.BlockNumber.Uint64(),
				Status:      r.Status,
				GasUsed:     r.GasUsed,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		t := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
