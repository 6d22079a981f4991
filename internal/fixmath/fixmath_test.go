package fixmath_test

import (
	"errors"
	"testing"

	"KasaLedger/internal/fixmath"
)

// ============================================================================
// Test: ScaledMul / ScaledDiv
// ============================================================================

func TestScaledDiv_Exact(t *testing.T) {
	got, err := fixmath.ScaledDiv(fixmath.ScaledMul(6, 7), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 21 {
		t.Errorf("got %d, want 21", got)
	}
}

func TestScaledDiv_Truncates(t *testing.T) {
	// 10*3/4 = 7.5, truncation toward zero
	got, err := fixmath.MulDiv(10, 3, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestScaledDiv_DivisionByZero(t *testing.T) {
	_, err := fixmath.MulDiv(1, 1, 0)
	if !errors.Is(err, fixmath.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestScaledDiv_Overflow(t *testing.T) {
	max := ^uint64(0)
	_, err := fixmath.MulDiv(max, 2, 1)
	if !errors.Is(err, fixmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// a*b overflows uint64 but the quotient fits
	max := ^uint64(0)
	got, err := fixmath.MulDiv(max, 1000, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != max {
		t.Errorf("got %d, want %d", got, max)
	}
}

// ============================================================================
// Test: CollateralRatio
// ============================================================================

func TestCollateralRatio_200Percent(t *testing.T) {
	// 100 collateral at price 2.0 against 100 debt = 200%
	got, err := fixmath.CollateralRatio(100, 100, 2_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2_000_000 {
		t.Errorf("got %d, want 2_000_000", got)
	}
}

func TestCollateralRatio_Truncates(t *testing.T) {
	// 100 * 1_000_001 / 3 = 33_333_366.66 -> truncated
	got, err := fixmath.CollateralRatio(100, 3, 1_000_001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 33_333_366 {
		t.Errorf("got %d, want 33_333_366", got)
	}
}

func TestCollateralRatio_ZeroDebt(t *testing.T) {
	_, err := fixmath.CollateralRatio(100, 0, 1_000_000)
	if !errors.Is(err, fixmath.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

// ============================================================================
// Test: NominalCollateralRatio
// ============================================================================

func TestNominalCollateralRatio_PreservesOrdering(t *testing.T) {
	low, err := fixmath.NominalCollateralRatio(100, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := fixmath.NominalCollateralRatio(300, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if low >= high {
		t.Errorf("nominal ratio ordering broken: %d >= %d", low, high)
	}
	if low != fixmath.NominalPrecision {
		t.Errorf("got %d, want %d", low, fixmath.NominalPrecision)
	}
}

func TestNominalCollateralRatio_ZeroDebt(t *testing.T) {
	_, err := fixmath.NominalCollateralRatio(100, 0)
	if !errors.Is(err, fixmath.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

// ============================================================================
// Test: RatioPercent / IsSolvent
// ============================================================================

func TestRatioPercent_Truncates(t *testing.T) {
	cases := []struct {
		ratio uint64
		want  uint64
	}{
		{1_100_000, 110},
		{1_099_999, 109}, // just below 110% reads as 109
		{1_500_000, 150},
		{999_999, 99},
		{0, 0},
	}
	for _, tc := range cases {
		if got := fixmath.RatioPercent(tc.ratio); got != tc.want {
			t.Errorf("RatioPercent(%d): got %d, want %d", tc.ratio, got, tc.want)
		}
	}
}

func TestIsSolvent_AtBoundary(t *testing.T) {
	// 100 collateral, 100 debt: price 1.10 puts the ratio exactly at 110%
	solvent, err := fixmath.IsSolvent(100, 100, 1_100_000, 110)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !solvent {
		t.Error("ratio exactly at the threshold should be solvent")
	}
}

func TestIsSolvent_JustBelowBoundary(t *testing.T) {
	// price 1.099999 -> ratio 1_099_999 -> 109% < 110
	solvent, err := fixmath.IsSolvent(100, 100, 1_099_999, 110)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if solvent {
		t.Error("ratio below the threshold should not be solvent")
	}
}

func TestIsSolvent_RecoveryThreshold(t *testing.T) {
	// 140% clears normal mode but not recovery mode
	solvent, err := fixmath.IsSolvent(140, 100, 1_000_000, 110)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !solvent {
		t.Error("140%% should be solvent at the 110 threshold")
	}

	solvent, err = fixmath.IsSolvent(140, 100, 1_000_000, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if solvent {
		t.Error("140%% should not be solvent at the 150 threshold")
	}
}

func TestIsSolvent_ZeroDebt(t *testing.T) {
	_, err := fixmath.IsSolvent(100, 0, 1_000_000, 110)
	if !errors.Is(err, fixmath.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}
