package inflation

import (
	"fmt"
	"math/big"
)

// scaleDigits is the fixed-point scale spec.md §4.3 and §9 mandate: 8 fractional
// digits, truncated toward zero, never binary floating point.
const scaleDigits = 8

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(scaleDigits), nil)

// Amount is a fixed-point quantity scaled by 10^8, backed by *big.Int so
// arithmetic never touches float64.
type Amount struct {
	scaled *big.Int // value * 10^8
}

// NewAmountFromWhole builds an Amount representing a whole-unit integer
// quantity (e.g. the current asset supply expressed in whole coins).
func NewAmountFromWhole(whole int64) Amount {
	return Amount{scaled: new(big.Int).Mul(big.NewInt(whole), scaleFactor)}
}

// MulRate multiplies the amount by rate, converting it to an exact
// rational first and multiplying before dividing, rounding toward zero,
// per spec.md §9: "convert the rate into rational (numerator/denominator)
// and multiply before dividing, rounding toward zero."
func (a Amount) MulRate(rate *big.Rat) Amount {
	if rate == nil || rate.Sign() == 0 {
		return Amount{scaled: big.NewInt(0)}
	}
	product := new(big.Int).Mul(a.scaled, rate.Num())
	// big.Int.Quo truncates toward zero, matching the spec's rounding mode.
	result := new(big.Int).Quo(product, rate.Denom())
	return Amount{scaled: result}
}

// String renders the amount with exactly 8 fractional digits, e.g.
// "10000.00000000".
func (a Amount) String() string {
	neg := a.scaled.Sign() < 0
	abs := new(big.Int).Abs(a.scaled)

	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(abs, scaleFactor, frac)

	sign := ""
	if neg && (whole.Sign() != 0 || frac.Sign() != 0) {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%0*s", sign, whole.String(), scaleDigits, frac.String())
}

// Float64 returns an approximate float64 representation, for logging only
// — never used in the computation path itself.
func (a Amount) Float64() float64 {
	f := new(big.Float).SetInt(a.scaled)
	f.Quo(f, new(big.Float).SetInt(scaleFactor))
	result, _ := f.Float64()
	return result
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.scaled == nil || a.scaled.Sign() == 0
}
