package verification

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"

	"phone-verification-server/internal/payment"
	sessiondomain "phone-verification-server/internal/session/domain"
	telemetrydomain "phone-verification-server/internal/telemetry/domain"
	voucherdomain "phone-verification-server/internal/voucher/domain"
)

// PayOnChain accepts txHash on chainID as payment for the session and moves it to IN_PROGRESS.
func (s *Service) PayOnChain(ctx context.Context, sessionID string, chainID int64, txHash string) (*sessiondomain.Session, error) {
	return s.payOnChain(ctx, sessionID, chainID, txHash, SessionPriceUSD, false)
}

// AdminPayOnChain is PayOnChain at the admin price. A transaction whose data does not carry the
// session id is still accepted; every other check applies.
func (s *Service) AdminPayOnChain(ctx context.Context, sessionID string, chainID int64, txHash string) (*sessiondomain.Session, error) {
	return s.payOnChain(ctx, sessionID, chainID, txHash, AdminSessionPriceUSD, true)
}

func (s *Service) payOnChain(ctx context.Context, sessionID string, chainID int64, txHash string, price decimal.Decimal, admin bool) (*sessiondomain.Session, error) {
	if txHash == "" {
		return nil, ErrTxHashRequired
	}
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TxHash != "" {
		return nil, ErrAlreadyPaid
	}
	if err := s.payments.ValidateSessionTx(ctx, sess, chainID, txHash, price); err != nil {
		if !admin || !errors.Is(err, payment.ErrInvalidTxData) {
			return nil, err
		}
		logf("admin payment for session %s accepted without session tx data", sessionID)
	}
	updated, err := s.sessions.Update(ctx, sessionID, sessiondomain.StatusNeedsPayment, sessiondomain.Patch{
		Status:  sessiondomain.StatusPtr(sessiondomain.StatusInProgress),
		ChainID: &chainID,
		TxHash:  &txHash,
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, telemetrydomain.EventPaymentAccepted, sessionID, map[string]string{
		"method":   "onchain",
		"chain_id": strconv.FormatInt(chainID, 10),
		"tx_hash":  txHash,
		"admin":    strconv.FormatBool(admin),
	})
	return updated, nil
}

// PayWithPayPal captures orderID, which must have been created for the session, and moves the
// session to IN_PROGRESS.
func (s *Service) PayWithPayPal(ctx context.Context, sessionID, orderID string) (*sessiondomain.Session, error) {
	if orderID == "" {
		return nil, ErrOrderIDRequired
	}
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != sessiondomain.StatusNeedsPayment {
		return nil, &sessiondomain.StatusMismatchError{Actual: sess.Status, Expected: sessiondomain.StatusNeedsPayment}
	}
	if _, err := s.payments.ValidatePayPalCapture(ctx, sess, orderID, SessionPriceUSD); err != nil {
		return nil, err
	}
	updated, err := s.sessions.Update(ctx, sessionID, sessiondomain.StatusNeedsPayment, sessiondomain.Patch{
		Status: sessiondomain.StatusPtr(sessiondomain.StatusInProgress),
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, telemetrydomain.EventPaymentAccepted, sessionID, map[string]string{"method": "paypal", "order_id": orderID})
	return updated, nil
}

// GenerateVouchers accepts txHash as payment for n vouchers and returns their ids.
func (s *Service) GenerateVouchers(ctx context.Context, chainID int64, txHash string, n int) ([]string, error) {
	if txHash == "" {
		return nil, ErrTxHashRequired
	}
	if n <= 0 {
		return nil, ErrInvalidVoucherCount
	}
	total := decimal.NewFromInt(int64(n * voucherdomain.USDPerVoucher))
	if err := s.payments.ValidateVoucherTx(ctx, chainID, txHash, total); err != nil {
		return nil, err
	}
	now := s.nowF()
	batch := make([]*voucherdomain.Voucher, n)
	ids := make([]string, n)
	for i := range batch {
		id, err := newID()
		if err != nil {
			return nil, err
		}
		ids[i] = id
		batch[i] = &voucherdomain.Voucher{ID: id, TxHash: txHash, CreatedAt: now}
	}
	if err := s.vouchers.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}
	s.emit(ctx, telemetrydomain.EventVouchersGenerated, "", map[string]string{
		"tx_hash": txHash,
		"count":   strconv.Itoa(n),
	})
	return ids, nil
}

// RedeemVoucher pays for the session with voucherID. The voucher is claimed before the session
// moves, so a retry after a failed status write by the same session succeeds.
func (s *Service) RedeemVoucher(ctx context.Context, sessionID, voucherID string) (*sessiondomain.Session, error) {
	if voucherID == "" {
		return nil, ErrVoucherIDRequired
	}
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != sessiondomain.StatusNeedsPayment {
		return nil, &sessiondomain.StatusMismatchError{Actual: sess.Status, Expected: sessiondomain.StatusNeedsPayment}
	}
	v, err := s.vouchers.GetByID(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, voucherdomain.ErrVoucherNotFound
	}
	if v.IsRedeemed && v.SessionID != sessionID {
		return nil, voucherdomain.ErrVoucherRedeemed
	}
	if err := s.vouchers.Redeem(ctx, voucherID, sessionID, s.nowF()); err != nil {
		return nil, err
	}
	updated, err := s.sessions.Update(ctx, sessionID, sessiondomain.StatusNeedsPayment, sessiondomain.Patch{
		Status: sessiondomain.StatusPtr(sessiondomain.StatusInProgress),
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, telemetrydomain.EventVoucherRedeemed, sessionID, map[string]string{"voucher_id": voucherID})
	return updated, nil
}
