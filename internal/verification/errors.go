package verification

import (
	"errors"

	sessiondomain "phone-verification-server/internal/session/domain"
)

// Sentinel errors raised by the state machine itself. Classify maps every error the service can
// return, including these, to a Class; the HTTP layer maps classes to status codes.
var (
	ErrSigDigestRequired   = errors.New("sigDigest is required")
	ErrLookupKeyRequired   = errors.New("sigDigest or id is required")
	ErrSessionIDRequired   = errors.New("sessionId is required")
	ErrTxHashRequired      = errors.New("txHash is required")
	ErrOrderIDRequired     = errors.New("orderId is required")
	ErrVoucherIDRequired   = errors.New("voucherId is required")
	ErrInvalidVoucherCount = errors.New("valid numberOfVouchers is required")
	ErrPhoneNumberRequired = errors.New("phone number is required")
	ErrInvalidPhoneNumber  = errors.New("phone number must be in E.164 format, e.g. +13109273149")
	ErrCodeRequired        = errors.New("code is required")

	ErrAlreadyPaid       = errors.New("session is already associated with a transaction")
	ErrMaxAttempts       = sessiondomain.ErrAttemptsExhausted
	ErrAlreadyRegistered = errors.New("number has been registered already")
	ErrUnsafeNumber      = errors.New("phone number could not be determined to belong to a unique human")
	ErrVerifyInProgress  = errors.New("another verification is in progress for this session")
)
