package core_test

import (
	"errors"
	"testing"

	"KasaLedger/internal/core"
	"KasaLedger/internal/index"
	"KasaLedger/internal/pool"
	"KasaLedger/internal/state"
	"KasaLedger/internal/token"

	"github.com/google/uuid"
)

// --- Test helpers ---

type managerFixture struct {
	manager *core.KasaManager
	cap     core.Capability
	ledger  *state.PositionLedger
	index   *index.SortedIndex
	tokens  *token.DebtTokenLedger
	pool    *pool.AbsorptionPool
}

func newTestManager(t *testing.T) *managerFixture {
	t.Helper()

	ledger := state.NewPositionLedger()
	sortedIndex := index.NewSortedIndex()
	tokens := token.NewDebtTokenLedger()
	absorptionPool := pool.NewAbsorptionPool()

	manager, capability, err := core.NewKasaManager(
		ledger, sortedIndex, tokens, absorptionPool, state.DefaultRiskParams(),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	return &managerFixture{
		manager: manager,
		cap:     capability,
		ledger:  ledger,
		index:   sortedIndex,
		tokens:  tokens,
		pool:    absorptionPool,
	}
}

func (f *managerFixture) mustOpen(t *testing.T, owner uuid.UUID, collateral, debt, price uint64) {
	t.Helper()
	if _, err := f.manager.Open(f.cap, owner, collateral, debt, price); err != nil {
		t.Fatalf("open %s: %v", owner, err)
	}
}

// checkSupplyInvariant verifies debt-token supply equals aggregate
// position debt plus the unbacked remainder bucket.
func (f *managerFixture) checkSupplyInvariant(t *testing.T) {
	t.Helper()
	_, totalDebt := f.ledger.Totals()
	supply := f.tokens.TotalSupply()
	if supply != totalDebt+f.manager.UnbackedDebt() {
		t.Errorf("supply invariant broken: supply=%d, total_debt=%d, unbacked=%d",
			supply, totalDebt, f.manager.UnbackedDebt())
	}
}

// ============================================================================
// Test: Capability
// ============================================================================

func TestManager_RejectsZeroCapability(t *testing.T) {
	f := newTestManager(t)

	_, err := f.manager.Open(core.Capability{}, uuid.New(), 150, 100, 2_000_000)
	if !errors.Is(err, core.ErrNotAuthorized) {
		t.Errorf("got %v, want ErrNotAuthorized", err)
	}

	_, err = f.manager.Redeem(core.Capability{}, uuid.New(), 10, 2_000_000, core.RedemptionHints{})
	if !errors.Is(err, core.ErrNotAuthorized) {
		t.Errorf("redeem: got %v, want ErrNotAuthorized", err)
	}
}

// ============================================================================
// Test: Open / Adjust / Close
// ============================================================================

func TestManager_OpenMintsDebtTokens(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()

	notice, err := f.manager.Open(f.cap, owner, 150, 100, 2_000_000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if notice.Owner != owner || notice.Collateral != 150 || notice.Debt != 100 {
		t.Errorf("notice: got %+v", notice)
	}
	if got := f.tokens.BalanceOf(owner); got != 100 {
		t.Errorf("token balance: got %d, want 100", got)
	}
	if !f.index.Contains(owner) {
		t.Error("open position should be indexed")
	}
	f.checkSupplyInvariant(t)
}

func TestManager_OpenUndercollateralized(t *testing.T) {
	f := newTestManager(t)

	// 100% at price 1.0 — below the 110 threshold
	_, err := f.manager.Open(f.cap, uuid.New(), 100, 100, 1_000_000)
	if !errors.Is(err, core.ErrUndercollateralized) {
		t.Errorf("got %v, want ErrUndercollateralized", err)
	}
}

func TestManager_OpenZeroDebt(t *testing.T) {
	f := newTestManager(t)
	_, err := f.manager.Open(f.cap, uuid.New(), 100, 0, 1_000_000)
	if !errors.Is(err, state.ErrInsufficientDebt) {
		t.Errorf("got %v, want ErrInsufficientDebt", err)
	}
}

func TestManager_AddAndWithdrawCollateral(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 150, 100, 2_000_000)

	notice, err := f.manager.AddCollateral(f.cap, owner, 50)
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if notice.Collateral != 200 {
		t.Errorf("collateral after add: got %d, want 200", notice.Collateral)
	}

	notice, err = f.manager.WithdrawCollateral(f.cap, owner, 100, 2_000_000)
	if err != nil {
		t.Fatalf("withdraw collateral: %v", err)
	}
	if notice.Collateral != 100 {
		t.Errorf("collateral after withdraw: got %d, want 100", notice.Collateral)
	}
}

func TestManager_WithdrawCollateralGuardsSolvency(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 150, 100, 1_000_000) // 150%

	// Dropping to 100 collateral would leave 100% < 110
	_, err := f.manager.WithdrawCollateral(f.cap, owner, 50, 1_000_000)
	if !errors.Is(err, core.ErrUndercollateralized) {
		t.Errorf("got %v, want ErrUndercollateralized", err)
	}

	coll, _ := f.ledger.Amounts(owner)
	if coll != 150 {
		t.Errorf("collateral after rejected withdraw: got %d, want 150", coll)
	}
}

func TestManager_MintDebtGuardsSolvency(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 150, 100, 1_000_000) // 150%

	notice, err := f.manager.MintDebt(f.cap, owner, 30, 1_000_000) // -> ~115%
	if err != nil {
		t.Fatalf("mint debt: %v", err)
	}
	if notice.Debt != 130 {
		t.Errorf("debt: got %d, want 130", notice.Debt)
	}
	if got := f.tokens.BalanceOf(owner); got != 130 {
		t.Errorf("token balance: got %d, want 130", got)
	}

	// Another 30 would cross below 110%
	_, err = f.manager.MintDebt(f.cap, owner, 30, 1_000_000)
	if !errors.Is(err, core.ErrUndercollateralized) {
		t.Errorf("got %v, want ErrUndercollateralized", err)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_RepayDebtPartial(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 150, 100, 2_000_000)

	notice, err := f.manager.RepayDebt(f.cap, owner, 40)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if notice.Debt != 60 {
		t.Errorf("debt: got %d, want 60", notice.Debt)
	}
	if got := f.tokens.BalanceOf(owner); got != 60 {
		t.Errorf("token balance: got %d, want 60", got)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_RepayDebtFullClosesPosition(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 150, 100, 2_000_000)

	notice, err := f.manager.RepayDebt(f.cap, owner, 100)
	if err != nil {
		t.Fatalf("repay full: %v", err)
	}
	if notice.Collateral != 150 || notice.Debt != 0 {
		t.Errorf("close notice: got %+v", notice)
	}
	if f.ledger.Has(owner) {
		t.Error("position should be closed")
	}
	if f.index.Contains(owner) {
		t.Error("closed position should leave the index")
	}
	f.checkSupplyInvariant(t)
}

func TestManager_RepayDebtOverpay(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 150, 100, 2_000_000)

	_, err := f.manager.RepayDebt(f.cap, owner, 101)
	if !errors.Is(err, state.ErrInsufficientDebt) {
		t.Errorf("got %v, want ErrInsufficientDebt", err)
	}
}

func TestManager_CloseReturnsCollateral(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 150, 100, 2_000_000)

	notice, err := f.manager.Close(f.cap, owner)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if notice.Collateral != 150 {
		t.Errorf("collateral returned: got %d, want 150", notice.Collateral)
	}
	if got := f.tokens.TotalSupply(); got != 0 {
		t.Errorf("supply after close: got %d, want 0", got)
	}

	_, err = f.manager.Close(f.cap, owner)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("double close: got %v, want ErrPositionNotFound", err)
	}
}

// ============================================================================
// Test: Recovery mode
// ============================================================================

func TestManager_RecoveryMode(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 100, 100, 2_000_000)

	if f.manager.RecoveryMode(1_600_000) {
		t.Error("160%% system ratio should not be recovery mode")
	}
	if !f.manager.RecoveryMode(1_400_000) {
		t.Error("140%% system ratio should be recovery mode")
	}
}

func TestManager_RecoveryModeEmptySystem(t *testing.T) {
	f := newTestManager(t)
	if f.manager.RecoveryMode(1_000_000) {
		t.Error("empty system should never be in recovery mode")
	}
}

func TestManager_OpenUsesRecoveryThreshold(t *testing.T) {
	f := newTestManager(t)
	anchor := uuid.New()
	f.mustOpen(t, anchor, 100, 100, 2_000_000)

	// At price 1.4 the system sits at 140% — recovery mode. A new 140%
	// position clears the 110 MCR but not the 150 CCR.
	_, err := f.manager.Open(f.cap, uuid.New(), 100, 100, 1_400_000)
	if !errors.Is(err, core.ErrUndercollateralized) {
		t.Errorf("got %v, want ErrUndercollateralized", err)
	}

	// At price 1.6 the system is back to normal mode; 120% is enough.
	if _, err := f.manager.Open(f.cap, uuid.New(), 75, 100, 1_600_000); err != nil {
		t.Errorf("normal-mode open at 120%%: %v", err)
	}
}

// ============================================================================
// Test: Risk params
// ============================================================================

func TestManager_UpdateRiskParams(t *testing.T) {
	f := newTestManager(t)

	err := f.manager.UpdateRiskParams(f.cap, state.RiskParams{
		MinCollateralRatioPct: 120,
		RecoveryRatioPct:      160,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := f.manager.RiskParams().MinCollateralRatioPct; got != 120 {
		t.Errorf("mcr: got %d, want 120", got)
	}

	// 100 is not a valid MCR
	err = f.manager.UpdateRiskParams(f.cap, state.RiskParams{
		MinCollateralRatioPct: 100,
		RecoveryRatioPct:      150,
	})
	if err == nil {
		t.Error("mcr <= 100 should be rejected")
	}
}

// ============================================================================
// Test: Pool operations
// ============================================================================

func TestManager_PoolDepositMovesTokensToCustody(t *testing.T) {
	f := newTestManager(t)
	staker := uuid.New()
	f.mustOpen(t, staker, 1000, 200, 2_000_000)

	if err := f.manager.PoolDeposit(f.cap, staker, 150); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}

	if got := f.tokens.BalanceOf(staker); got != 50 {
		t.Errorf("staker balance: got %d, want 50", got)
	}
	if got := f.tokens.BalanceOf(f.manager.PoolAccount()); got != 150 {
		t.Errorf("custody balance: got %d, want 150", got)
	}
	if got := f.pool.StakeOf(staker); got != 150 {
		t.Errorf("stake: got %d, want 150", got)
	}
}

func TestManager_PoolDepositWithoutTokens(t *testing.T) {
	f := newTestManager(t)
	err := f.manager.PoolDeposit(f.cap, uuid.New(), 10)
	if !errors.Is(err, token.ErrInsufficientTokenBalance) {
		t.Errorf("got %v, want ErrInsufficientTokenBalance", err)
	}
}

func TestManager_PoolWithdraw(t *testing.T) {
	f := newTestManager(t)
	staker := uuid.New()
	f.mustOpen(t, staker, 1000, 200, 2_000_000)
	if err := f.manager.PoolDeposit(f.cap, staker, 150); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}

	if err := f.manager.PoolWithdraw(f.cap, staker, 100); err != nil {
		t.Fatalf("pool withdraw: %v", err)
	}
	if got := f.tokens.BalanceOf(staker); got != 150 {
		t.Errorf("staker balance: got %d, want 150", got)
	}

	err := f.manager.PoolWithdraw(f.cap, staker, 51)
	if !errors.Is(err, pool.ErrInsufficientStake) {
		t.Errorf("got %v, want ErrInsufficientStake", err)
	}
}

func TestManager_ClaimPoolCollateralNothing(t *testing.T) {
	f := newTestManager(t)
	_, err := f.manager.ClaimPoolCollateral(f.cap, uuid.New())
	if !errors.Is(err, core.ErrNothingToClaim) {
		t.Errorf("got %v, want ErrNothingToClaim", err)
	}
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestManager_LiquidateFullyAbsorbed(t *testing.T) {
	f := newTestManager(t)
	risky, safe, staker := uuid.New(), uuid.New(), uuid.New()

	f.mustOpen(t, risky, 100, 100, 2_000_000) // 200% at open
	f.mustOpen(t, safe, 300, 100, 2_000_000)
	f.mustOpen(t, staker, 1000, 200, 2_000_000)
	if err := f.manager.PoolDeposit(f.cap, staker, 150); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}

	// Price drops: risky at 100%, safe at 300%.
	result, err := f.manager.LiquidateBatch(f.cap, []uuid.UUID{risky, safe}, 1_000_000)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if len(result.Liquidated) != 1 {
		t.Fatalf("liquidated: got %d, want 1", len(result.Liquidated))
	}
	liq := result.Liquidated[0]
	if liq.Owner != risky || liq.Collateral != 100 || liq.Debt != 100 {
		t.Errorf("liquidated entry: got %+v", liq)
	}
	if liq.AbsorbedDebt != 100 || liq.RedistributedDebt != 0 {
		t.Errorf("debt split: got absorbed=%d redistributed=%d, want 100/0",
			liq.AbsorbedDebt, liq.RedistributedDebt)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != safe {
		t.Errorf("skipped: got %v, want [%s]", result.Skipped, safe)
	}

	if f.ledger.Has(risky) {
		t.Error("liquidated position should be removed")
	}
	if got := f.pool.AvailableStake(); got != 50 {
		t.Errorf("remaining stake: got %d, want 50", got)
	}
	if got := f.pool.CollateralGain(staker); got != 100 {
		t.Errorf("staker gain: got %d, want 100", got)
	}
	f.checkSupplyInvariant(t)

	// Claim the gain
	gain, err := f.manager.ClaimPoolCollateral(f.cap, staker)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if gain != 100 {
		t.Errorf("claimed: got %d, want 100", gain)
	}
}

func TestManager_LiquidateRedistributesUncoveredDebt(t *testing.T) {
	f := newTestManager(t)
	risky, safe := uuid.New(), uuid.New()

	f.mustOpen(t, risky, 100, 100, 2_000_000)
	f.mustOpen(t, safe, 300, 100, 2_000_000)

	// No pool stake: everything redistributes to the remaining position.
	result, err := f.manager.LiquidateBatch(f.cap, []uuid.UUID{risky}, 1_000_000)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	liq := result.Liquidated[0]
	if liq.AbsorbedDebt != 0 || liq.RedistributedDebt != 100 {
		t.Errorf("debt split: got absorbed=%d redistributed=%d, want 0/100",
			liq.AbsorbedDebt, liq.RedistributedDebt)
	}

	coll, debt := f.ledger.Amounts(safe)
	if coll != 400 || debt != 200 {
		t.Errorf("recipient after redistribution: got (%d, %d), want (400, 200)", coll, debt)
	}
	if got := f.manager.UnbackedDebt(); got != 0 {
		t.Errorf("unbacked debt: got %d, want 0", got)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_LiquidatePartialAbsorption(t *testing.T) {
	f := newTestManager(t)
	risky, safe, staker := uuid.New(), uuid.New(), uuid.New()

	f.mustOpen(t, risky, 100, 100, 2_000_000)
	f.mustOpen(t, safe, 300, 100, 2_000_000)
	f.mustOpen(t, staker, 1000, 200, 2_000_000)
	if err := f.manager.PoolDeposit(f.cap, staker, 50); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}

	result, err := f.manager.LiquidateBatch(f.cap, []uuid.UUID{risky}, 1_000_000)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	liq := result.Liquidated[0]
	if liq.AbsorbedDebt != 50 || liq.RedistributedDebt != 50 {
		t.Errorf("debt split: got absorbed=%d redistributed=%d, want 50/50",
			liq.AbsorbedDebt, liq.RedistributedDebt)
	}

	// Collateral follows the split: 50 to the pool, 50 redistributed.
	if got := f.pool.CollateralGain(staker); got != 50 {
		t.Errorf("staker gain: got %d, want 50", got)
	}
	totalColl, totalDebt := f.ledger.Totals()
	if totalColl != 1350 || totalDebt != 350 {
		t.Errorf("totals: got (%d, %d), want (1350, 350)", totalColl, totalDebt)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_LiquidateLastPositionBooksRemainders(t *testing.T) {
	f := newTestManager(t)
	only := uuid.New()
	f.mustOpen(t, only, 100, 100, 2_000_000)

	result, err := f.manager.LiquidateBatch(f.cap, []uuid.UUID{only}, 1_000_000)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if len(result.Liquidated) != 1 {
		t.Fatalf("liquidated: got %d, want 1", len(result.Liquidated))
	}

	if got := f.manager.UnbackedDebt(); got != 100 {
		t.Errorf("unbacked debt: got %d, want 100", got)
	}
	if got := f.manager.OrphanedCollateral(); got != 100 {
		t.Errorf("orphaned collateral: got %d, want 100", got)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_LiquidateMissingCandidateAborts(t *testing.T) {
	f := newTestManager(t)
	open, missing := uuid.New(), uuid.New()
	f.mustOpen(t, open, 100, 100, 2_000_000)

	// The missing candidate aborts the batch; the open one after it is
	// never evaluated.
	result, err := f.manager.LiquidateBatch(f.cap, []uuid.UUID{missing, open}, 1_000_000)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Fatalf("got %v, want ErrPositionNotFound", err)
	}
	if result == nil {
		t.Fatal("partial result expected even on abort")
	}
	if len(result.Liquidated) != 0 {
		t.Errorf("liquidated: got %d, want 0", len(result.Liquidated))
	}
	if !f.ledger.Has(open) {
		t.Error("position after the abort point must be untouched")
	}
}

func TestManager_LiquidateSkipsAllSolvent(t *testing.T) {
	f := newTestManager(t)
	a, b := uuid.New(), uuid.New()
	f.mustOpen(t, a, 300, 100, 2_000_000)
	f.mustOpen(t, b, 400, 100, 2_000_000)

	result, err := f.manager.LiquidateBatch(f.cap, []uuid.UUID{a, b}, 2_000_000)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if len(result.Liquidated) != 0 || len(result.Skipped) != 2 {
		t.Errorf("got liquidated=%d skipped=%d, want 0/2",
			len(result.Liquidated), len(result.Skipped))
	}
}

// ============================================================================
// Test: Redemption
// ============================================================================

func TestManager_RedeemPartialFromRiskiest(t *testing.T) {
	f := newTestManager(t)
	risky, safe, redeemer := uuid.New(), uuid.New(), uuid.New()

	f.mustOpen(t, risky, 100, 100, 2_000_000) // nicr lowest
	f.mustOpen(t, safe, 300, 100, 2_000_000)
	f.mustOpen(t, redeemer, 1000, 300, 2_000_000)

	result, err := f.manager.Redeem(f.cap, redeemer, 50, 2_000_000, core.RedemptionHints{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if result.Redeemed != 50 {
		t.Errorf("redeemed: got %d, want 50", result.Redeemed)
	}
	// 50 debt at price 2.0 buys 25 collateral
	if result.CollateralPaid != 25 {
		t.Errorf("collateral paid: got %d, want 25", result.CollateralPaid)
	}
	if result.Visited != 1 {
		t.Errorf("visited: got %d, want 1", result.Visited)
	}
	if len(result.FullyRedeemed) != 0 {
		t.Errorf("fully redeemed: got %v, want none", result.FullyRedeemed)
	}

	coll, debt := f.ledger.Amounts(risky)
	if coll != 75 || debt != 50 {
		t.Errorf("riskiest after redemption: got (%d, %d), want (75, 50)", coll, debt)
	}
	if got := f.tokens.BalanceOf(redeemer); got != 250 {
		t.Errorf("redeemer balance: got %d, want 250", got)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_RedeemFullDrainsPositionWithSurplus(t *testing.T) {
	f := newTestManager(t)
	risky, redeemer := uuid.New(), uuid.New()

	f.mustOpen(t, risky, 100, 100, 2_000_000)
	f.mustOpen(t, redeemer, 1000, 300, 2_000_000)

	result, err := f.manager.Redeem(f.cap, redeemer, 100, 2_000_000, core.RedemptionHints{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if len(result.FullyRedeemed) != 1 || result.FullyRedeemed[0] != risky {
		t.Errorf("fully redeemed: got %v, want [%s]", result.FullyRedeemed, risky)
	}
	if f.ledger.Has(risky) {
		t.Error("fully redeemed position should be removed")
	}
	if f.index.Contains(risky) {
		t.Error("fully redeemed position should leave the index")
	}

	// 100 debt at price 2.0 extracts 50 collateral; the other 50 is surplus.
	if got := f.manager.SurplusOf(risky); got != 50 {
		t.Errorf("surplus: got %d, want 50", got)
	}

	claimed, err := f.manager.ClaimSurplus(f.cap, risky)
	if err != nil {
		t.Fatalf("claim surplus: %v", err)
	}
	if claimed != 50 {
		t.Errorf("claimed: got %d, want 50", claimed)
	}
	_, err = f.manager.ClaimSurplus(f.cap, risky)
	if !errors.Is(err, core.ErrNothingToClaim) {
		t.Errorf("second claim: got %v, want ErrNothingToClaim", err)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_RedeemWalksMultiplePositions(t *testing.T) {
	f := newTestManager(t)
	risky, safe, redeemer := uuid.New(), uuid.New(), uuid.New()

	f.mustOpen(t, risky, 100, 100, 2_000_000)
	f.mustOpen(t, safe, 300, 100, 2_000_000)
	f.mustOpen(t, redeemer, 1000, 300, 2_000_000)

	result, err := f.manager.Redeem(f.cap, redeemer, 150, 2_000_000, core.RedemptionHints{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if result.Redeemed != 150 || result.Visited != 2 {
		t.Errorf("got redeemed=%d visited=%d, want 150/2", result.Redeemed, result.Visited)
	}
	if result.CollateralPaid != 75 {
		t.Errorf("collateral paid: got %d, want 75", result.CollateralPaid)
	}

	coll, debt := f.ledger.Amounts(safe)
	if coll != 275 || debt != 50 {
		t.Errorf("second position: got (%d, %d), want (275, 50)", coll, debt)
	}
	f.checkSupplyInvariant(t)
}

func TestManager_RedeemSkipsSubThresholdPositions(t *testing.T) {
	f := newTestManager(t)
	under, above, redeemer := uuid.New(), uuid.New(), uuid.New()

	f.mustOpen(t, under, 105, 100, 2_000_000) // 105% at price 1.0
	f.mustOpen(t, above, 300, 100, 2_000_000)
	f.mustOpen(t, redeemer, 1000, 300, 2_000_000)

	result, err := f.manager.Redeem(f.cap, redeemer, 60, 1_000_000, core.RedemptionHints{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Redeemed != 60 || result.CollateralPaid != 60 {
		t.Errorf("got redeemed=%d paid=%d, want 60/60", result.Redeemed, result.CollateralPaid)
	}

	// The sub-threshold position is untouched; the walk started above it.
	coll, debt := f.ledger.Amounts(under)
	if coll != 105 || debt != 100 {
		t.Errorf("sub-threshold position: got (%d, %d), want (105, 100)", coll, debt)
	}
	coll, debt = f.ledger.Amounts(above)
	if coll != 240 || debt != 40 {
		t.Errorf("redeemed position: got (%d, %d), want (240, 40)", coll, debt)
	}
}

func TestManager_RedeemValidFirstHint(t *testing.T) {
	f := newTestManager(t)
	under, above, redeemer := uuid.New(), uuid.New(), uuid.New()

	f.mustOpen(t, under, 105, 100, 2_000_000)
	f.mustOpen(t, above, 300, 100, 2_000_000)
	f.mustOpen(t, redeemer, 1000, 300, 2_000_000)

	hints := core.RedemptionHints{First: &above}
	result, err := f.manager.Redeem(f.cap, redeemer, 60, 1_000_000, hints)
	if err != nil {
		t.Fatalf("redeem with hint: %v", err)
	}
	if result.Redeemed != 60 {
		t.Errorf("redeemed: got %d, want 60", result.Redeemed)
	}
	coll, debt := f.ledger.Amounts(above)
	if coll != 240 || debt != 40 {
		t.Errorf("hinted position: got (%d, %d), want (240, 40)", coll, debt)
	}
}

func TestManager_RedeemInvalidHintFallsBack(t *testing.T) {
	f := newTestManager(t)
	under, above, redeemer := uuid.New(), uuid.New(), uuid.New()

	f.mustOpen(t, under, 105, 100, 2_000_000)
	f.mustOpen(t, above, 300, 100, 2_000_000)
	f.mustOpen(t, redeemer, 1000, 300, 2_000_000)

	// The redeemer's own position is not first (its predecessor qualifies
	// too), so the hint is rejected and the scan finds the real start.
	hints := core.RedemptionHints{First: &redeemer}
	if _, err := f.manager.Redeem(f.cap, redeemer, 60, 1_000_000, hints); err != nil {
		t.Fatalf("redeem with bad hint: %v", err)
	}

	coll, debt := f.ledger.Amounts(above)
	if coll != 240 || debt != 40 {
		t.Errorf("walk start: got (%d, %d), want (240, 40)", coll, debt)
	}
}

func TestManager_RedeemInsufficientBalance(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 1000, 300, 2_000_000)

	_, err := f.manager.Redeem(f.cap, owner, 301, 2_000_000, core.RedemptionHints{})
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestManager_RedeemNothingAboveThreshold(t *testing.T) {
	f := newTestManager(t)
	owner := uuid.New()
	f.mustOpen(t, owner, 105, 100, 2_000_000)

	// At price 1.0 the only position is at 105% — below the MCR.
	_, err := f.manager.Redeem(f.cap, owner, 10, 1_000_000, core.RedemptionHints{})
	if !errors.Is(err, core.ErrNothingToRedeem) {
		t.Errorf("got %v, want ErrNothingToRedeem", err)
	}
}
