package payment

import "errors"

// Sentinel errors for payment validation. Each check wraps one of these with the detail a client
// needs to correct the payment; the state machine classifies them and the HTTP layer maps them.
var (
	ErrTxNotFound         = errors.New("could not find transaction")
	ErrInvalidRecipient   = errors.New("invalid transaction recipient")
	ErrInsufficientAmount = errors.New("invalid transaction amount")
	ErrTxUnconfirmed      = errors.New("transaction has not been confirmed yet")
	ErrTxAlreadyUsed      = errors.New("transaction has already been used")
	ErrInvalidTxData      = errors.New("invalid transaction data")
	ErrOrderNotInSession  = errors.New("order is not associated with this session")
	ErrOrderNotCompleted  = errors.New("order is not completed")
	// ErrProviderUnavailable wraps RPC, price and PayPal failures that are not a verdict on the payment.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)
