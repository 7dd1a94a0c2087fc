package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phone-verification-server/internal/credential"
	"phone-verification-server/internal/lock"
	nullifierdomain "phone-verification-server/internal/nullifier/domain"
	"phone-verification-server/internal/refund"
	sessiondomain "phone-verification-server/internal/session/domain"
	telemetrydomain "phone-verification-server/internal/telemetry/domain"
)

// noNullifier is issued when the caller does not bind the credential to a nullifier.
const noNullifier = "0"

// verifyLockPrefix keys the lock that serializes VerifyAndIssue per session.
const verifyLockPrefix = "sessionVerifyMutexLock:"

// failWriteTimeout bounds the VERIFICATION_FAILED write, which runs after the request context may be done.
const failWriteTimeout = 5 * time.Second

// VerifyRequest is the input of VerifyAndIssue. Country overrides the region parsed from PhoneNumber.
type VerifyRequest struct {
	SessionID   string
	PhoneNumber string
	Code        string
	Country     string
	Nullifier   string
}

// SendCode sends a one-time code to phoneNumber for an IN_PROGRESS session and counts the attempt.
// The attempt is reserved before dispatch and handed back when the code could not be started.
func (s *Service) SendCode(ctx context.Context, sessionID, phoneNumber string) error {
	number, country, err := parsePhoneNumber(phoneNumber)
	if err != nil {
		return err
	}
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	if _, err := s.sessions.ReserveAttempt(ctx, sessionID, sessiondomain.MaxAttemptsPerSession); err != nil {
		return err
	}
	if err := s.otp.Begin(ctx, number, country); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
		defer cancel()
		if rerr := s.sessions.ReleaseAttempt(rctx, sessionID); rerr != nil {
			logf("release attempt on session %s: %v", sessionID, rerr)
		}
		return err
	}
	s.emit(ctx, telemetrydomain.EventOTPSent, sessionID, map[string]string{"country": country})
	return nil
}

// VerifyAndIssue checks the code and the number, then issues a credential and moves the session to
// ISSUED. Errors that classify as session failing move it to VERIFICATION_FAILED instead.
//
// With a nullifier that was bound to the same number within the grace window, the credential is
// re-issued without a code so a client that lost the response can fetch it again.
//
// Calls for one session are serialized; a call that finds another in flight gets ErrVerifyInProgress.
func (s *Service) VerifyAndIssue(ctx context.Context, req VerifyRequest) (*credential.Credential, error) {
	number, country, err := parsePhoneNumber(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if req.Country != "" {
		country = req.Country
	}
	nullifier := noNullifier
	if req.Nullifier != "" {
		if nullifier, err = nullifierdomain.Parse(req.Nullifier); err != nil {
			return nil, err
		}
	}
	if req.SessionID == "" {
		return nil, ErrSessionIDRequired
	}

	unlock, err := s.locks.TryAcquire(ctx, verifyLockPrefix+req.SessionID, s.opts.VerifyTimeout+failWriteTimeout)
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrVerifyInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire verify lock: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logf("release verify lock on session %s: %v", req.SessionID, err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.VerifyTimeout)
	defer cancel()

	sess, err := s.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if req.Nullifier != "" {
		cred, ok, err := s.refetch(ctx, sess, number, nullifier)
		if err != nil || ok {
			return cred, err
		}
	}

	if sess.Status != sessiondomain.StatusInProgress {
		return nil, &sessiondomain.StatusMismatchError{Actual: sess.Status, Expected: sessiondomain.StatusInProgress}
	}
	if req.Code == "" {
		return nil, ErrCodeRequired
	}

	cred, claimed, err := s.verify(ctx, sess.ID, number, country, nullifier, req.Code)
	if err != nil {
		switch {
		case claimed:
			s.unissue(sess.ID, err)
		case FailsSession(err):
			s.fail(sess.ID, err)
		}
		return nil, err
	}
	return cred, nil
}

// verify runs the pipeline for a fresh code. The session is claimed with the IN_PROGRESS -> ISSUED
// write before the number is registered, the nullifier bound or the credential signed, so only the
// caller that won the write has side effects. claimed reports whether that write happened.
func (s *Service) verify(ctx context.Context, sessionID, number, country, nullifier, code string) (cred *credential.Credential, claimed bool, err error) {
	if err := s.otp.Verify(ctx, number, code); err != nil {
		return nil, false, err
	}
	elig, err := s.gate.CheckEligibility(ctx, number, country)
	if err != nil {
		return nil, false, err
	}
	if s.opts.SybilResistanceEnabled && elig.IsRegistered {
		return nil, false, ErrAlreadyRegistered
	}
	if !elig.IsSafe {
		return nil, false, fmt.Errorf("%w: fraud score %.0f", ErrUnsafeNumber, elig.FraudScore)
	}

	if _, err := s.sessions.Update(ctx, sessionID, sessiondomain.StatusInProgress, sessiondomain.Patch{
		Status: sessiondomain.StatusPtr(sessiondomain.StatusIssued),
	}); err != nil {
		if errors.Is(err, sessiondomain.ErrStatusMismatch) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("mark session issued: %w", err)
	}

	// The binding is written after the registration so a re-fetch does not see its own registration
	// as a newer one.
	if s.opts.SybilResistanceEnabled {
		if err := s.gate.Register(ctx, number); err != nil {
			return nil, true, fmt.Errorf("register number: %w", err)
		}
	}
	if nullifier != noNullifier {
		rec := &nullifierdomain.Record{IssuanceNullifier: nullifier, PhoneNumber: number, CreatedAt: s.nowF()}
		if err := s.nullifiers.Bind(ctx, rec); err != nil {
			return nil, true, err
		}
	}
	cred, err = s.issuer.Issue(number, nullifier)
	if err != nil {
		return nil, true, fmt.Errorf("issue credential: %w", err)
	}
	s.emit(ctx, telemetrydomain.EventCredentialIssued, sessionID, map[string]string{"country": country})
	return cred, true, nil
}

// refetch handles a nullifier that already has a record. ok is false when the normal pipeline
// should run instead.
func (s *Service) refetch(ctx context.Context, sess *sessiondomain.Session, number, nullifier string) (cred *credential.Credential, ok bool, err error) {
	rec, err := s.nullifiers.Get(ctx, nullifier)
	if err != nil {
		return nil, false, fmt.Errorf("lookup nullifier: %w", err)
	}
	if rec == nil {
		return nil, false, nil
	}
	if rec.PhoneNumber != number {
		return nil, false, nullifierdomain.ErrNullifierBound
	}
	if !s.opts.SybilResistanceEnabled || !rec.WithinGrace(s.nowF(), s.opts.NullifierGraceDays) {
		return nil, false, nil
	}
	reg, err := s.numbers.Get(ctx, number)
	if err != nil {
		return nil, false, fmt.Errorf("lookup registration: %w", err)
	}
	// A registration newer than the binding means the number was verified again since.
	if reg != nil && reg.InsertedAt.After(rec.CreatedAt) {
		return nil, false, nil
	}

	switch sess.Status {
	case sessiondomain.StatusIssued:
	case sessiondomain.StatusInProgress:
		if _, err := s.sessions.Update(ctx, sess.ID, sessiondomain.StatusInProgress, sessiondomain.Patch{
			Status: sessiondomain.StatusPtr(sessiondomain.StatusIssued),
		}); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, nil
	}

	cred, err = s.issuer.Issue(number, nullifier)
	if err != nil {
		return nil, false, fmt.Errorf("issue credential: %w", err)
	}
	s.emit(ctx, telemetrydomain.EventCredentialRefetch, sess.ID, nil)
	return cred, true, nil
}

// fail moves the session to VERIFICATION_FAILED with cause as the reason. It runs on a fresh context
// so a timed out pipeline still leaves the session in a final state.
func (s *Service) fail(sessionID string, cause error) {
	s.markFailed(sessionID, sessiondomain.StatusInProgress, false, cause)
}

// unissue moves a session claimed by verify back out of ISSUED when a later step failed. The
// credential was never returned.
func (s *Service) unissue(sessionID string, cause error) {
	s.markFailed(sessionID, sessiondomain.StatusIssued, true, cause)
}

func (s *Service) markFailed(sessionID string, from sessiondomain.Status, forced bool, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), failWriteTimeout)
	defer cancel()
	reason := cause.Error()
	_, err := s.sessions.Update(ctx, sessionID, from, sessiondomain.Patch{
		Status:        sessiondomain.StatusPtr(sessiondomain.StatusVerificationFailed),
		FailureReason: &reason,
		Forced:        forced,
	})
	if err != nil {
		logf("mark session %s failed: %v", sessionID, err)
		return
	}
	s.emit(ctx, telemetrydomain.EventVerificationFailed, sessionID, map[string]string{"reason": reason})
}

// Refund refunds a failed session on-chain to `to`, or through PayPal when to is empty.
func (s *Service) Refund(ctx context.Context, sessionID, to string) (*refund.Receipt, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	if s.refunds == nil {
		return nil, refund.ErrRefundsDisabled
	}
	receipt, err := s.refunds.Refund(ctx, sessionID, to)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{"method": "paypal", "refund_id": receipt.PayPalRefundID}
	if receipt.TxReceipt != nil {
		meta = map[string]string{"method": "onchain", "refund_id": receipt.TxReceipt.TxHash}
	}
	s.emit(ctx, telemetrydomain.EventSessionRefunded, sessionID, meta)
	return receipt, nil
}
