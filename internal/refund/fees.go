package refund

import (
	"math/big"

	"phone-verification-server/internal/payment/chain"
)

// FeePolicy adjusts suggested EIP-1559 fees per chain.
type FeePolicy interface {
	Fees(chainID int64, suggested chain.Fees) chain.Fees
}

// FeePolicyFunc adapts a function to FeePolicy.
type FeePolicyFunc func(chainID int64, suggested chain.Fees) chain.Fees

func (f FeePolicyFunc) Fees(chainID int64, suggested chain.Fees) chain.Fees {
	return f(chainID, suggested)
}

// DefaultFeePolicy raises Fantom fees (max fee x2, tip x14, tip capped at max fee), whose node
// estimates are too low to get mined. Other chains use the suggestion unchanged.
var DefaultFeePolicy FeePolicy = FeePolicyFunc(func(chainID int64, suggested chain.Fees) chain.Fees {
	if chainID != chain.Fantom {
		return suggested
	}
	maxFee := new(big.Int).Mul(suggested.MaxFeePerGas, big.NewInt(2))
	tip := new(big.Int).Mul(suggested.MaxPriorityFeePerGas, big.NewInt(14))
	if tip.Cmp(maxFee) > 0 {
		tip.Set(maxFee)
	}
	return chain.Fees{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}
})

