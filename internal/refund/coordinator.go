// Package refund returns part of the payment for sessions that failed verification.
package refund

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"phone-verification-server/internal/lock"
	"phone-verification-server/internal/payment/chain"
	"phone-verification-server/internal/payment/paypal"
	sessiondomain "phone-verification-server/internal/session/domain"
)

const (
	// LockTTL bounds how long a crashed refund keeps other attempts out.
	LockTTL = 60 * time.Second

	// PayPalRefundUSD is the fixed partial refund for PayPal payments.
	PayPalRefundUSD = "2.53"

	payPalRefundNote = "Failed verification"
)

// On-chain refunds return refundNumerator/refundDenominator of the original value.
var (
	refundNumerator   = big.NewInt(691)
	refundDenominator = big.NewInt(1000)
)

// Sessions is the subset of the session repository the coordinator needs.
type Sessions interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Update(ctx context.Context, id string, expected sessiondomain.Status, patch sessiondomain.Patch) (*sessiondomain.Session, error)
}

// Chains resolves chain clients.
type Chains interface {
	Client(id int64) (chain.Client, error)
}

// PayPal is the subset of the PayPal client refunds use.
type PayPal interface {
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	RefundCapture(ctx context.Context, captureID, amountUSD, note string) (*paypal.Refund, error)
}

// Receipt describes a completed refund.
type Receipt struct {
	SessionID      string         `json:"sessionId"`
	TxReceipt      *chain.Receipt `json:"txReceipt,omitempty"`
	PayPalRefundID string         `json:"paypalRefundId,omitempty"`
}

// Coordinator runs at most one refund per session at a time and never refunds a session twice.
type Coordinator struct {
	sessions Sessions
	chains   Chains
	locker   lock.Locker
	paypal   PayPal
	key      *ecdsa.PrivateKey
	fees     FeePolicy
	retry    chain.RetryPolicy
}

// NewCoordinator returns a coordinator. key signs on-chain refunds; nil disables them.
func NewCoordinator(sessions Sessions, chains Chains, locker lock.Locker, pp PayPal, key *ecdsa.PrivateKey, fees FeePolicy) *Coordinator {
	if fees == nil {
		fees = DefaultFeePolicy
	}
	return &Coordinator{
		sessions: sessions,
		chains:   chains,
		locker:   locker,
		paypal:   pp,
		key:      key,
		fees:     fees,
		retry:    chain.DefaultRetry,
	}
}

// LockKey is the lock name for a session's refund.
func LockKey(sessionID string) string {
	return "sessionRefundMutexLock:" + sessionID
}

// Refund refunds sessionID on-chain to `to`, or through PayPal when to is empty.
func (c *Coordinator) Refund(ctx context.Context, sessionID, to string) (*Receipt, error) {
	var dest common.Address
	if to != "" {
		if len(to) != 42 || !common.IsHexAddress(to) {
			return nil, ErrInvalidAddress
		}
		dest = common.HexToAddress(to)
	}

	unlock, err := c.locker.TryAcquire(ctx, LockKey(sessionID), LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, ErrRefundInProgress
		}
		return nil, fmt.Errorf("acquire refund lock: %w", err)
	}
	defer func() {
		// Release with a fresh context so a cancelled request still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlock(rctx); err != nil {
			log.Printf("refund: release lock for session %s: %v", sessionID, err)
		}
	}()

	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, sessiondomain.ErrSessionNotFound
	}
	if s.Status != sessiondomain.StatusVerificationFailed {
		return nil, ErrNotRefundable
	}
	if s.RefundTxHash != "" {
		return nil, ErrAlreadyRefunded
	}

	if to != "" {
		return c.refundOnChain(ctx, s, dest)
	}
	return c.refundPayPal(ctx, s)
}

func (c *Coordinator) refundOnChain(ctx context.Context, s *sessiondomain.Session, to common.Address) (*Receipt, error) {
	if s.ChainID == nil || s.TxHash == "" {
		return nil, ErrNoPayment
	}
	if c.key == nil {
		return nil, ErrRefundsDisabled
	}
	client, err := c.chains.Client(*s.ChainID)
	if err != nil {
		return nil, err
	}
	tx, err := chain.FetchTransaction(ctx, client, s.TxHash, c.retry)
	if err != nil {
		return nil, fmt.Errorf("fetch payment tx: %w", err)
	}
	amount := new(big.Int).Mul(tx.Value, refundNumerator)
	amount.Quo(amount, refundDenominator)

	from := crypto.PubkeyToAddress(c.key.PublicKey)
	balance, err := client.BalanceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("wallet balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	suggested, err := client.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest fees: %w", err)
	}
	fees := c.fees.Fees(*s.ChainID, suggested)
	hash, err := client.SendTransfer(ctx, c.key, to, amount, fees)
	if err != nil {
		return nil, fmt.Errorf("send refund: %w", err)
	}
	log.Printf("refund: session %s sent %s wei to %s in %s", s.ID, amount, to.Hex(), hash)
	receipt, err := client.WaitMined(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("wait for refund %s: %w", hash, err)
	}
	if err := c.markRefunded(ctx, s.ID, receipt.TxHash); err != nil {
		return nil, err
	}
	return &Receipt{SessionID: s.ID, TxReceipt: receipt}, nil
}

func (c *Coordinator) refundPayPal(ctx context.Context, s *sessiondomain.Session) (*Receipt, error) {
	if len(s.PayPal.Orders) == 0 || c.paypal == nil {
		return nil, ErrNoPayment
	}
	var capture *paypal.Capture
	for _, o := range s.PayPal.Orders {
		order, err := c.paypal.GetOrder(ctx, o.ID)
		if err != nil {
			return nil, fmt.Errorf("get paypal order %s: %w", o.ID, err)
		}
		if order.Status != paypal.StatusCompleted {
			continue
		}
		capture, err = order.FirstCompletedCapture()
		if err != nil {
			return nil, ErrNoPayment
		}
		break
	}
	if capture == nil {
		return nil, ErrNoPayment
	}
	ref, err := c.paypal.RefundCapture(ctx, capture.ID, PayPalRefundUSD, payPalRefundNote)
	if err != nil {
		return nil, fmt.Errorf("refund paypal capture %s: %w", capture.ID, err)
	}
	if ref.Status != paypal.StatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrRefundFailed, ref.Status)
	}
	if err := c.markRefunded(ctx, s.ID, ""); err != nil {
		return nil, err
	}
	return &Receipt{SessionID: s.ID, PayPalRefundID: ref.ID}, nil
}

// markRefunded records the refund. Funds have already moved, so failures are logged loudly.
func (c *Coordinator) markRefunded(ctx context.Context, sessionID, refundTxHash string) error {
	patch := sessiondomain.Patch{Status: sessiondomain.StatusPtr(sessiondomain.StatusRefunded)}
	if refundTxHash != "" {
		patch.RefundTxHash = &refundTxHash
	}
	if _, err := c.sessions.Update(ctx, sessionID, sessiondomain.StatusVerificationFailed, patch); err != nil {
		log.Printf("refund: session %s refunded (tx %q) but status update failed: %v", sessionID, refundTxHash, err)
		return fmt.Errorf("record refund: %w", err)
	}
	return nil
}
