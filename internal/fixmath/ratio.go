package fixmath

// CollateralRatio returns collateral * price / debt on the Scalar scale
// (2_000_000 = 200%). Fails with ErrDivisionByZero when debt is zero;
// callers treat zero-debt positions as closed before asking for a ratio.
func CollateralRatio(collateral, debt, price uint64) (uint64, error) {
	if debt == 0 {
		return 0, ErrDivisionByZero
	}
	return ScaledDiv(ScaledMul(collateral, price), debt)
}

// NominalCollateralRatio substitutes NominalPrecision for a live price.
// Used only to order positions; never for eligibility decisions.
func NominalCollateralRatio(collateral, debt uint64) (uint64, error) {
	if debt == 0 {
		return 0, ErrDivisionByZero
	}
	return ScaledDiv(ScaledMul(collateral, NominalPrecision), debt)
}

// RatioPercent rescales a Scalar-scale ratio to a whole percentage,
// truncating: 1_099_999 -> 109.
func RatioPercent(ratio uint64) uint64 {
	return ratio / (Scalar / 100)
}

// IsSolvent reports whether a position's ratio meets thresholdPct
// (a whole percentage, e.g. 110 or 150 in recovery mode).
func IsSolvent(collateral, debt, price uint64, thresholdPct uint64) (bool, error) {
	ratio, err := CollateralRatio(collateral, debt, price)
	if err != nil {
		return false, err
	}
	return RatioPercent(ratio) >= thresholdPct, nil
}
