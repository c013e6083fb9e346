package engine

import (
	"math/bits"

	"github.com/holiman/uint256"
)

// mulDiv returns floor(x*y/d) with a 256-bit intermediate product.
func mulDiv(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrArithmeticInvariant
	}
	z, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !z.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return z.Uint64(), nil
}

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// bps applies a basis-point rate to amount, rounding down.
func bps(amount, rate uint64) (uint64, error) {
	return mulDiv(amount, rate, 10000)
}
