package domain

import (
	"errors"
	"time"
)

// USDPerVoucher is the price of one voucher; a batch of N vouchers needs a payment of N times this.
const USDPerVoucher = 5

// Sentinel errors for voucher redemption. The HTTP layer maps them to 404 and 409.
var (
	ErrVoucherNotFound = errors.New("voucher is invalid")
	ErrVoucherRedeemed = errors.New("voucher is already redeemed")
)

// Voucher is a pre-paid token that lets one session skip the direct payment step.
type Voucher struct {
	ID         string
	IsRedeemed bool
	SessionID  string
	TxHash     string
	CreatedAt  time.Time
	RedeemedAt *time.Time
}
