package state_test

import (
	"errors"
	"testing"

	"KasaLedger/internal/fixmath"
	"KasaLedger/internal/state"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Create / Remove
// ============================================================================

func TestPositionLedger_CreateAndAmounts(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()

	if err := pl.Create(owner, 150, 100); err != nil {
		t.Fatalf("create: %v", err)
	}

	coll, debt := pl.Amounts(owner)
	if coll != 150 || debt != 100 {
		t.Errorf("got (%d, %d), want (150, 100)", coll, debt)
	}
	if !pl.Has(owner) {
		t.Error("ledger should report the position open")
	}
	if pl.Len() != 1 {
		t.Errorf("len: got %d, want 1", pl.Len())
	}
}

func TestPositionLedger_CreateDuplicate(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()

	if err := pl.Create(owner, 100, 50); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := pl.Create(owner, 200, 100)
	if !errors.Is(err, state.ErrPositionExists) {
		t.Errorf("got %v, want ErrPositionExists", err)
	}
}

func TestPositionLedger_CreateDebtWithoutCollateral(t *testing.T) {
	pl := state.NewPositionLedger()
	err := pl.Create(uuid.New(), 0, 100)
	if !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestPositionLedger_Remove(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 150, 100); err != nil {
		t.Fatalf("create: %v", err)
	}

	coll, debt, err := pl.Remove(owner)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if coll != 150 || debt != 100 {
		t.Errorf("got (%d, %d), want (150, 100)", coll, debt)
	}
	if pl.Has(owner) {
		t.Error("removed position should be gone")
	}

	totalColl, totalDebt := pl.Totals()
	if totalColl != 0 || totalDebt != 0 {
		t.Errorf("totals after remove: got (%d, %d), want (0, 0)", totalColl, totalDebt)
	}
}

func TestPositionLedger_RemoveMissing(t *testing.T) {
	pl := state.NewPositionLedger()
	_, _, err := pl.Remove(uuid.New())
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("got %v, want ErrPositionNotFound", err)
	}
}

// ============================================================================
// Test: Adjustments
// ============================================================================

func TestPositionLedger_AdjustmentsTrackTotals(t *testing.T) {
	pl := state.NewPositionLedger()
	a, b := uuid.New(), uuid.New()

	if err := pl.Create(a, 100, 50); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := pl.Create(b, 200, 80); err != nil {
		t.Fatalf("create b: %v", err)
	}

	if err := pl.IncreaseCollateral(a, 30); err != nil {
		t.Fatalf("increase collateral: %v", err)
	}
	if err := pl.DecreaseCollateral(b, 50); err != nil {
		t.Fatalf("decrease collateral: %v", err)
	}
	if err := pl.IncreaseDebt(a, 10); err != nil {
		t.Fatalf("increase debt: %v", err)
	}
	if err := pl.DecreaseDebt(b, 30); err != nil {
		t.Fatalf("decrease debt: %v", err)
	}

	totalColl, totalDebt := pl.Totals()
	if totalColl != 280 {
		t.Errorf("total collateral: got %d, want 280", totalColl)
	}
	if totalDebt != 110 {
		t.Errorf("total debt: got %d, want 110", totalDebt)
	}
}

func TestPositionLedger_DecreaseCollateralUnderflow(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 100, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := pl.DecreaseCollateral(owner, 101)
	if !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestPositionLedger_RefusesStrippingDebtBearingPosition(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 100, 50); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Removing all collateral while debt remains must fail.
	err := pl.DecreaseCollateral(owner, 100)
	if !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestPositionLedger_DecreaseDebtUnderflow(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 100, 50); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := pl.DecreaseDebt(owner, 51)
	if !errors.Is(err, state.ErrInsufficientDebt) {
		t.Errorf("got %v, want ErrInsufficientDebt", err)
	}
}

func TestPositionLedger_AdjustMissingPosition(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()

	if err := pl.IncreaseCollateral(owner, 10); !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("increase collateral: got %v, want ErrPositionNotFound", err)
	}
	if err := pl.IncreaseDebt(owner, 10); !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("increase debt: got %v, want ErrPositionNotFound", err)
	}
}

// ============================================================================
// Test: Ratio queries
// ============================================================================

func TestPositionLedger_CollateralRatioOf(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 150, 100); err != nil {
		t.Fatalf("create: %v", err)
	}

	ratio, err := pl.CollateralRatioOf(owner, 2_000_000)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if ratio != 3_000_000 {
		t.Errorf("got %d, want 3_000_000", ratio)
	}

	_, err = pl.CollateralRatioOf(uuid.New(), 2_000_000)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("got %v, want ErrPositionNotFound", err)
	}
}

func TestPositionLedger_NominalRatioOf(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 100, 100); err != nil {
		t.Fatalf("create: %v", err)
	}

	nicr, err := pl.NominalRatioOf(owner)
	if err != nil {
		t.Fatalf("nominal ratio: %v", err)
	}
	if nicr != fixmath.NominalPrecision {
		t.Errorf("got %d, want %d", nicr, fixmath.NominalPrecision)
	}
}

// ============================================================================
// Test: Canonical iteration / restore
// ============================================================================

func TestPositionLedger_SortedOwnersCanonicalOrder(t *testing.T) {
	pl := state.NewPositionLedger()
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	mid := uuid.MustParse("77777777-7777-7777-7777-777777777777")
	high := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

	// Insert out of order
	for _, owner := range []uuid.UUID{high, low, mid} {
		if err := pl.Create(owner, 100, 10); err != nil {
			t.Fatalf("create %s: %v", owner, err)
		}
	}

	owners := pl.SortedOwners()
	want := []uuid.UUID{low, mid, high}
	if len(owners) != len(want) {
		t.Fatalf("got %d owners, want %d", len(owners), len(want))
	}
	for i := range want {
		if owners[i] != want[i] {
			t.Errorf("owners[%d]: got %s, want %s", i, owners[i], want[i])
		}
	}
}

func TestPositionLedger_AllPositionsReturnsCopies(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 100, 50); err != nil {
		t.Fatalf("create: %v", err)
	}

	positions := pl.AllPositions()
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	positions[0].Collateral = 999

	coll, _ := pl.Amounts(owner)
	if coll != 100 {
		t.Errorf("ledger state mutated through copy: got %d, want 100", coll)
	}
}

func TestPositionLedger_SetPositionKeepsTotalsInSync(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()
	if err := pl.Create(owner, 100, 50); err != nil {
		t.Fatalf("create: %v", err)
	}

	pl.SetPosition(&state.Position{Owner: owner, Collateral: 300, Debt: 120})

	coll, debt := pl.Amounts(owner)
	if coll != 300 || debt != 120 {
		t.Errorf("got (%d, %d), want (300, 120)", coll, debt)
	}
	totalColl, totalDebt := pl.Totals()
	if totalColl != 300 || totalDebt != 120 {
		t.Errorf("totals: got (%d, %d), want (300, 120)", totalColl, totalDebt)
	}
}
