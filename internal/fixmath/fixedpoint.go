package fixmath

import (
	"errors"
	"math/big"
	"sync"
)

// Fixed-point scales shared by every ratio computation.
// Prices and collateral ratios carry 6 decimal places; the nominal
// ratio uses a higher-precision constant as an ordering proxy.
const (
	Scalar           uint64 = 1_000_000   // decimal_precision=6
	NominalPrecision uint64 = 100_000_000 // decimal_precision=8, ordering proxy only
)

var (
	ErrDivisionByZero = errors.New("fixmath: division by zero")
	ErrOverflow       = errors.New("fixmath: result overflows uint64")
)

// Wide intermediates are pooled big.Ints. Products of two already-scaled
// uint64 values need up to 128 bits, so no fixed-width integer path exists.
var widePool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int {
	return widePool.Get().(*big.Int)
}

func putWide(v *big.Int) {
	v.SetUint64(0) // Clear before returning to pool
	widePool.Put(v)
}

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// ScaledMul computes a * b in a wide intermediate so the product of two
// scaled values never overflows. The caller hands the result to ScaledDiv.
func ScaledMul(a, b uint64) *big.Int {
	result := getWide()
	tmp := getWide()
	result.SetUint64(a)
	tmp.SetUint64(b)
	result.Mul(result, tmp)
	putWide(tmp)
	return result
}

// ScaledDiv divides a wide numerator by denom, truncating toward zero.
// Truncation is the only rounding permitted: ratios never overstate
// solvency. The numerator is consumed and returned to the pool.
func ScaledDiv(numerator *big.Int, denom uint64) (uint64, error) {
	defer putWide(numerator)

	if denom == 0 {
		return 0, ErrDivisionByZero
	}

	d := getWide()
	d.SetUint64(denom)
	numerator.Quo(numerator, d)
	putWide(d)

	if numerator.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return numerator.Uint64(), nil
}

// MulDiv computes a * b / denom through a wide intermediate.
func MulDiv(a, b, denom uint64) (uint64, error) {
	return ScaledDiv(ScaledMul(a, b), denom)
}
