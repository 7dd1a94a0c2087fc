package verification

import (
	"context"
	"errors"

	"phone-verification-server/internal/fraud"
	nullifierdomain "phone-verification-server/internal/nullifier/domain"
	"phone-verification-server/internal/otp"
	"phone-verification-server/internal/payment"
	"phone-verification-server/internal/payment/chain"
	"phone-verification-server/internal/refund"
	sessiondomain "phone-verification-server/internal/session/domain"
	voucherdomain "phone-verification-server/internal/voucher/domain"
)

// Class is the error taxonomy shared by the state machine and the HTTP layer.
type Class string

const (
	// SessionFailing errors end the verification attempt: the session moves to VERIFICATION_FAILED.
	SessionFailing Class = "session_failing"
	// Transient errors are retryable within the same session.
	Transient Class = "transient"
	Input     Class = "input"
	NotFound  Class = "not_found"
	// Conflict errors mean the session (or voucher, or refund) is not in the state the call needs.
	Conflict   Class = "conflict"
	Dependency Class = "dependency"
	// Internal is every error not listed in the table.
	Internal Class = "internal"
)

// classTable is checked in order with errors.Is; the first match wins.
var classTable = []struct {
	err   error
	class Class
}{
	{otp.ErrOTPNotFound, SessionFailing},
	{otp.ErrOTPMismatch, SessionFailing},
	{ErrAlreadyRegistered, SessionFailing},
	{context.DeadlineExceeded, SessionFailing},

	{otp.ErrTooManyAttemptsForCountry, Transient},
	{payment.ErrTxUnconfirmed, Transient},
	{context.Canceled, Transient},

	{ErrSigDigestRequired, Input},
	{ErrLookupKeyRequired, Input},
	{ErrSessionIDRequired, Input},
	{ErrTxHashRequired, Input},
	{ErrOrderIDRequired, Input},
	{ErrVoucherIDRequired, Input},
	{ErrInvalidVoucherCount, Input},
	{ErrPhoneNumberRequired, Input},
	{ErrInvalidPhoneNumber, Input},
	{ErrCodeRequired, Input},
	{ErrUnsafeNumber, Input},
	{ErrMaxAttempts, Input},
	{otp.ErrCountryRequired, Input},
	{nullifierdomain.ErrInvalidNullifier, Input},
	{nullifierdomain.ErrNullifierBound, Input},
	{chain.ErrUnsupportedChain, Input},
	{payment.ErrTxNotFound, Input},
	{payment.ErrInvalidRecipient, Input},
	{payment.ErrInsufficientAmount, Input},
	{payment.ErrTxAlreadyUsed, Input},
	{payment.ErrInvalidTxData, Input},
	{payment.ErrOrderNotInSession, Input},
	{refund.ErrInvalidAddress, Input},
	{refund.ErrNoPayment, Input},

	{sessiondomain.ErrSessionNotFound, NotFound},
	{voucherdomain.ErrVoucherNotFound, NotFound},

	{sessiondomain.ErrStatusMismatch, Conflict},
	{sessiondomain.ErrInvalidTransition, Conflict},
	{sessiondomain.ErrTxHashTaken, Conflict},
	{ErrAlreadyPaid, Conflict},
	{ErrVerifyInProgress, Conflict},
	{voucherdomain.ErrVoucherRedeemed, Conflict},
	{refund.ErrRefundInProgress, Conflict},
	{refund.ErrNotRefundable, Conflict},
	{refund.ErrAlreadyRefunded, Conflict},

	{fraud.ErrFraudProvider, Dependency},
	{payment.ErrProviderUnavailable, Dependency},
	{payment.ErrOrderNotCompleted, Dependency},
	{refund.ErrInsufficientFunds, Dependency},
	{refund.ErrRefundFailed, Dependency},
	{refund.ErrRefundsDisabled, Dependency},
}

// failsSession says, for an error raised while verifying a code and issuing a credential, whether the
// session moves to VERIFICATION_FAILED. Every Class has an entry.
var failsSession = map[Class]bool{
	SessionFailing: true,
	Transient:      false,
	Input:          false,
	NotFound:       false,
	Conflict:       false,
	Dependency:     true,
	Internal:       true,
}

// Classify returns the class of err. nil has no class and returns "".
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	for _, e := range classTable {
		if errors.Is(err, e.err) {
			return e.class
		}
	}
	return Internal
}

// FailsSession reports whether err, raised inside VerifyAndIssue, fails the session.
func FailsSession(err error) bool {
	if err == nil {
		return false
	}
	return failsSession[Classify(err)]
}
