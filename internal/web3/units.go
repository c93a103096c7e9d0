package web3

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// weiPerMicro converts between 18-decimal wei and 6-decimal micro-units.
	weiPerMicro  = decimal.New(1, 12)
	microPerUnit = decimal.New(1, 6)
)

// MicroFromWei truncates a wei amount to micro-units, saturating at MaxUint64.
func MicroFromWei(wei *big.Int) uint64 {
	if wei == nil || wei.Sign() <= 0 {
		return 0
	}
	micro := decimal.NewFromBigInt(wei, 0).Div(weiPerMicro).Truncate(0)
	return saturate(micro)
}

// WeiFromMicro converts micro-units back to wei.
func WeiFromMicro(micro uint64) *big.Int {
	return decimal.NewFromUint64(micro).Mul(weiPerMicro).BigInt()
}

// MicroFromAmount converts a whole-unit amount (e.g. 1.5 tokens) to micro-units.
func MicroFromAmount(amount decimal.Decimal) uint64 {
	if !amount.IsPositive() {
		return 0
	}
	return saturate(amount.Mul(microPerUnit).Truncate(0))
}

// AmountFromMicro is the inverse of MicroFromAmount.
func AmountFromMicro(micro uint64) decimal.Decimal {
	return decimal.NewFromUint64(micro).Div(microPerUnit)
}

func saturate(d decimal.Decimal) uint64 {
	n := d.BigInt()
	if !n.IsUint64() {
		return ^uint64(0)
	}
	return n.Uint64()
}
