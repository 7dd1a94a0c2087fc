package refund

import "errors"

// Sentinel errors for refunds; the HTTP layer maps them to 400, 404, 409 and 5xx responses.
var (
	ErrInvalidAddress    = errors.New("to is required and must be a 42-character hexstring (including 0x)")
	ErrRefundInProgress  = errors.New("refund already in progress")
	ErrNotRefundable     = errors.New("only failed verifications can be refunded")
	ErrAlreadyRefunded   = errors.New("session has already been refunded")
	ErrNoPayment         = errors.New("session has no payment that can be refunded this way")
	ErrInsufficientFunds = errors.New("wallet does not have enough funds to refund, please contact support")
	ErrRefundFailed      = errors.New("refund was not completed by the payment provider")
	ErrRefundsDisabled   = errors.New("on-chain refunds are not configured")
)
