package ledger

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point precision of every contract amount
const Decimals = 18

// FromWei converts a raw fixed-point amount to a decimal. Nil is zero.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -Decimals)
}

// ToWei converts a decimal amount to the contract's fixed-point form,
// truncating anything below the smallest unit.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Shift(Decimals).Truncate(0).BigInt()
}
