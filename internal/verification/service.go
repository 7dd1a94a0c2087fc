// Package verification is the session state machine, from payment to credential issuance.
// Every status write is a conditional update on the expected status.
package verification

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"phone-verification-server/internal/credential"
	"phone-verification-server/internal/fraud"
	"phone-verification-server/internal/lock"
	nullifierdomain "phone-verification-server/internal/nullifier/domain"
	"phone-verification-server/internal/payment"
	"phone-verification-server/internal/payment/paypal"
	phonedomain "phone-verification-server/internal/phonenumber/domain"
	"phone-verification-server/internal/refund"
	sessiondomain "phone-verification-server/internal/session/domain"
	sessionrepo "phone-verification-server/internal/session/repository"
	"phone-verification-server/internal/telemetry"
	telemetrydomain "phone-verification-server/internal/telemetry/domain"
	voucherdomain "phone-verification-server/internal/voucher/domain"
)

// Prices in USD.
var (
	SessionPriceUSD      = decimal.NewFromInt(5)
	AdminSessionPriceUSD = decimal.NewFromInt(3)
)

// PayPalOrderAmount is the amount of every PayPal order created for a session.
const PayPalOrderAmount = "5.00"

// OTP sends and checks one-time codes.
type OTP interface {
	Begin(ctx context.Context, phoneNumber, country string) error
	Verify(ctx context.Context, phoneNumber, code string) error
}

// Gate decides whether a number may receive a credential.
type Gate interface {
	CheckEligibility(ctx context.Context, number, country string) (fraud.Eligibility, error)
	Register(ctx context.Context, number string) error
}

// Payments validates on-chain and PayPal payments.
type Payments interface {
	ValidateSessionTx(ctx context.Context, s *sessiondomain.Session, chainID int64, txHash string, desiredUSD decimal.Decimal) error
	ValidateVoucherTx(ctx context.Context, chainID int64, txHash string, desiredUSD decimal.Decimal) error
	ValidatePayPalCapture(ctx context.Context, s *sessiondomain.Session, orderID string, expectedUSD decimal.Decimal) (*paypal.Order, error)
}

// OrderCreator creates PayPal orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amountUSD string) (*paypal.Order, error)
}

// Vouchers is the voucher store.
type Vouchers interface {
	GetByID(ctx context.Context, id string) (*voucherdomain.Voucher, error)
	CreateBatch(ctx context.Context, vouchers []*voucherdomain.Voucher) error
	Redeem(ctx context.Context, id, sessionID string, at time.Time) error
}

// Nullifiers is the nullifier store.
type Nullifiers interface {
	Get(ctx context.Context, nullifier string) (*nullifierdomain.Record, error)
	Bind(ctx context.Context, rec *nullifierdomain.Record) error
}

// Registrations looks up when a number last received a credential.
type Registrations interface {
	Get(ctx context.Context, number string) (*phonedomain.Registration, error)
}

// Refunder refunds failed sessions.
type Refunder interface {
	Refund(ctx context.Context, sessionID, to string) (*refund.Receipt, error)
}

// Deps are the collaborators of Service. Orders, Refunds and Events may be nil. A nil Locks
// serializes verification per session within this process only.
type Deps struct {
	Sessions   sessionrepo.Repository
	Vouchers   Vouchers
	Nullifiers Nullifiers
	Numbers    Registrations
	OTP        OTP
	Gate       Gate
	Payments   Payments
	Orders     OrderCreator
	Refunds    Refunder
	Issuer     credential.Issuer
	Events     telemetry.EventEmitter
	Locks      lock.Locker
}

// Options select the verification variant.
type Options struct {
	// NullifierGraceDays is how long a nullifier can re-fetch its credential without a new code. 0 disables re-fetch.
	NullifierGraceDays int
	// SybilResistanceEnabled registers numbers and rejects registered ones. Off only in testing deployments.
	SybilResistanceEnabled bool
	// VerifyTimeout bounds VerifyAndIssue.
	VerifyTimeout time.Duration
}

// DefaultOptions is the production variant.
func DefaultOptions() Options {
	return Options{NullifierGraceDays: 5, SybilResistanceEnabled: true, VerifyTimeout: 10 * time.Second}
}

// Service implements the session state machine.
type Service struct {
	sessions   sessionrepo.Repository
	vouchers   Vouchers
	nullifiers Nullifiers
	numbers    Registrations
	otp        OTP
	gate       Gate
	payments   Payments
	orders     OrderCreator
	refunds    Refunder
	issuer     credential.Issuer
	events     telemetry.EventEmitter
	locks      lock.Locker
	opts       Options
	nowF       func() time.Time
}

func NewService(d Deps, opts Options) *Service {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = DefaultOptions().VerifyTimeout
	}
	locks := d.Locks
	if locks == nil {
		locks = lock.NewMemoryLocker(nil)
	}
	return &Service{
		sessions:   d.Sessions,
		vouchers:   d.Vouchers,
		nullifiers: d.Nullifiers,
		numbers:    d.Numbers,
		otp:        d.OTP,
		gate:       d.Gate,
		payments:   d.Payments,
		orders:     d.Orders,
		refunds:    d.Refunds,
		issuer:     d.Issuer,
		events:     d.Events,
		locks:      locks,
		opts:       opts,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession stores a new NEEDS_PAYMENT session for sigDigest.
func (s *Service) CreateSession(ctx context.Context, sigDigest string) (*sessiondomain.Session, error) {
	if sigDigest == "" {
		return nil, ErrSigDigestRequired
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := s.nowF()
	sess := &sessiondomain.Session{
		ID:        id,
		SigDigest: sigDigest,
		Status:    sessiondomain.StatusNeedsPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.emit(ctx, telemetrydomain.EventSessionCreated, id, nil)
	return sess, nil
}

// GetSessions returns the session with id, or every session for sigDigest. id wins when both are set.
// An unknown id yields an empty list.
func (s *Service) GetSessions(ctx context.Context, id, sigDigest string) ([]*sessiondomain.Session, error) {
	switch {
	case id != "":
		sess, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return []*sessiondomain.Session{}, nil
		}
		return []*sessiondomain.Session{sess}, nil
	case sigDigest != "":
		list, err := s.sessions.ListBySigDigest(ctx, sigDigest)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []*sessiondomain.Session{}
		}
		return list, nil
	default:
		return nil, ErrLookupKeyRequired
	}
}

// CreatePayPalOrder creates a PayPal order and records it on the session, which must still need payment.
func (s *Service) CreatePayPalOrder(ctx context.Context, sessionID string) (*paypal.Order, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != sessiondomain.StatusNeedsPayment {
		return nil, &sessiondomain.StatusMismatchError{Actual: sess.Status, Expected: sessiondomain.StatusNeedsPayment}
	}
	if s.orders == nil {
		return nil, fmt.Errorf("%w: paypal is not configured", payment.ErrProviderUnavailable)
	}
	order, err := s.orders.CreateOrder(ctx, PayPalOrderAmount)
	if err != nil {
		return nil, providerErr("create paypal order", err)
	}
	rec := sessiondomain.PayPalOrder{ID: order.ID, CreatedAt: strconv.FormatInt(s.nowF().UnixMilli(), 10)}
	if _, err := s.sessions.AppendPayPalOrder(ctx, sessionID, sessiondomain.StatusNeedsPayment, rec); err != nil {
		return nil, err
	}
	return order, nil
}

// load returns the session or ErrSessionNotFound.
func (s *Service) load(ctx context.Context, sessionID string) (*sessiondomain.Session, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, sessiondomain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) emit(ctx context.Context, eventType, sessionID string, metadata map[string]string) {
	if s.events == nil {
		return
	}
	telemetry.EmitAsync(s.events, ctx, telemetrydomain.NewEvent(eventType, sessionID, metadata))
}

// newID returns 32 random bytes, hex encoded.
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// providerErr wraps a failed third-party call so it classifies as a dependency failure.
func providerErr(op string, err error) error {
	if errors.Is(err, payment.ErrProviderUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, payment.ErrProviderUnavailable, err)
}

func logf(format string, args ...any) {
	log.Printf("verification: "+format, args...)
}
