// Package payment validates on-chain and PayPal payments for verification sessions.
package payment

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"phone-verification-server/internal/payment/chain"
	"phone-verification-server/internal/payment/paypal"
	"phone-verification-server/internal/payment/price"
	sessiondomain "phone-verification-server/internal/session/domain"
)

// slippage is the share of the desired USD amount a payment must reach.
var slippage = decimal.RequireFromString("0.98")

// Chains resolves RPC clients and metadata for chain ids.
type Chains interface {
	Client(id int64) (chain.Client, error)
	Info(id int64) (chain.Info, error)
}

// SessionLookup finds the session that already paid with a transaction.
type SessionLookup interface {
	GetByTxHash(ctx context.Context, txHash string) (*sessiondomain.Session, error)
}

// VoucherLookup reports whether vouchers were already generated from a transaction.
type VoucherLookup interface {
	ExistsForTxHash(ctx context.Context, txHash string) (bool, error)
}

// OrderCapturer captures PayPal orders.
type OrderCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

type Config struct {
	// PaymentAddress is the address every on-chain payment must be sent to.
	PaymentAddress string
	Retry          chain.RetryPolicy
}

// Validator runs the ordered payment checks. It never mutates sessions.
type Validator struct {
	chains   Chains
	prices   price.Quoter
	sessions SessionLookup
	vouchers VoucherLookup
	paypal   OrderCapturer
	cfg      Config
}

func NewValidator(chains Chains, prices price.Quoter, sessions SessionLookup, vouchers VoucherLookup, pp OrderCapturer, cfg Config) *Validator {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = chain.DefaultRetry
	}
	return &Validator{chains: chains, prices: prices, sessions: sessions, vouchers: vouchers, paypal: pp, cfg: cfg}
}

// ValidateSessionTx checks that txHash on chainID pays desiredUSD for session s and is bound to it.
func (v *Validator) ValidateSessionTx(ctx context.Context, s *sessiondomain.Session, chainID int64, txHash string, desiredUSD decimal.Decimal) error {
	tx, err := v.checkTransfer(ctx, chainID, txHash, desiredUSD)
	if err != nil {
		return err
	}
	other, err := v.sessions.GetByTxHash(ctx, txHash)
	if err != nil {
		return fmt.Errorf("lookup session by tx: %w", err)
	}
	if other != nil {
		return fmt.Errorf("%w to pay for a session", ErrTxAlreadyUsed)
	}
	want, err := SessionTxData(s.ID)
	if err != nil || !bytes.Equal(tx.Data, want) {
		return ErrInvalidTxData
	}
	return nil
}

// ValidateVoucherTx checks that txHash pays desiredUSD and has not already bought vouchers.
// Voucher payments carry no session binding.
func (v *Validator) ValidateVoucherTx(ctx context.Context, chainID int64, txHash string, desiredUSD decimal.Decimal) error {
	if _, err := v.checkTransfer(ctx, chainID, txHash, desiredUSD); err != nil {
		return err
	}
	used, err := v.vouchers.ExistsForTxHash(ctx, txHash)
	if err != nil {
		return fmt.Errorf("lookup vouchers by tx: %w", err)
	}
	if used {
		return fmt.Errorf("%w to generate vouchers", ErrTxAlreadyUsed)
	}
	return nil
}

// ValidatePayPalCapture captures orderID, which must belong to s, and checks the first completed
// capture covers expectedUSD.
func (v *Validator) ValidatePayPalCapture(ctx context.Context, s *sessiondomain.Session, orderID string, expectedUSD decimal.Decimal) (*paypal.Order, error) {
	if !s.PayPal.HasOrder(orderID) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotInSession, orderID)
	}
	order, err := v.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: capture order: %v", ErrProviderUnavailable, err)
	}
	if order.Status != paypal.StatusCompleted {
		return nil, fmt.Errorf("%w: order %s status is %s", ErrOrderNotCompleted, orderID, order.Status)
	}
	capture, err := order.FirstCompletedCapture()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderNotCompleted, err)
	}
	amount, err := decimal.NewFromString(capture.Amount.Value)
	if err != nil || amount.LessThan(expectedUSD) {
		return nil, fmt.Errorf("%w: amount must be at least %s USD", ErrInsufficientAmount, expectedUSD.StringFixed(2))
	}
	return order, nil
}

// checkTransfer runs the checks shared by session and voucher payments: existence, recipient,
// amount and confirmation.
func (v *Validator) checkTransfer(ctx context.Context, chainID int64, txHash string, desiredUSD decimal.Decimal) (*chain.Tx, error) {
	info, err := v.chains.Info(chainID)
	if err != nil {
		return nil, err
	}
	client, err := v.chains.Client(chainID)
	if err != nil {
		return nil, err
	}
	tx, err := chain.FetchTransaction(ctx, client, txHash, v.cfg.Retry)
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			return nil, fmt.Errorf("%w with txHash %s on chain %d", ErrTxNotFound, txHash, chainID)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !strings.EqualFold(tx.To, v.cfg.PaymentAddress) {
		return nil, fmt.Errorf("%w: recipient must be %s", ErrInvalidRecipient, v.cfg.PaymentAddress)
	}
	p, err := v.prices.USDPrice(ctx, info.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrProviderUnavailable, err)
	}
	want := ExpectedWei(desiredUSD, p)
	if tx.Value == nil || tx.Value.Cmp(want) < 0 {
		return nil, fmt.Errorf("%w: amount must be at least %s wei on chain %d", ErrInsufficientAmount, want, chainID)
	}
	if tx.BlockHash == "" || tx.Confirmations == 0 {
		return nil, ErrTxUnconfirmed
	}
	return tx, nil
}

// ExpectedWei is desiredUSD*0.98/priceUSD rounded to 18 decimal places, in wei.
func ExpectedWei(desiredUSD, priceUSD decimal.Decimal) *big.Int {
	native := desiredUSD.Mul(slippage).DivRound(priceUSD, 18)
	return native.Shift(18).BigInt()
}

// SessionTxData is the calldata an on-chain payment must carry for sessionID: keccak256 of the id bytes.
func SessionTxData(sessionID string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sessionID, "0x"))
	if err != nil {
		return nil, fmt.Errorf("session id is not hex: %w", err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	return h.Sum(nil), nil
}
