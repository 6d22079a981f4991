package pool

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"KasaLedger/internal/fixmath"

	"github.com/google/uuid"
)

var ErrInsufficientStake = errors.New("insufficient pool stake")

// AbsorptionPool holds debt-token stake deposited by stakers and absorbs
// liquidated debt: stake is burned 1:1 against the absorbed debt while
// the liquidated collateral is credited to stakers pro rata.
//
// Not thread-safe; only accessed from the single-threaded core.
type AbsorptionPool struct {
	stakes     map[uuid.UUID]uint64 // debt-token stake per staker
	totalStake uint64

	gains             map[uuid.UUID]uint64 // claimable collateral per staker
	collateralBalance uint64               // collateral held for stakers
}

func NewAbsorptionPool() *AbsorptionPool {
	return &AbsorptionPool{
		stakes: make(map[uuid.UUID]uint64),
		gains:  make(map[uuid.UUID]uint64),
	}
}

// Deposit adds stake for a staker. Token custody moves are the caller's
// concern; the pool only does stake accounting.
func (ap *AbsorptionPool) Deposit(staker uuid.UUID, amount uint64) error {
	if ap.totalStake+amount < ap.totalStake {
		return fmt.Errorf("deposit %d for %s: stake overflow", amount, staker)
	}
	ap.stakes[staker] += amount
	ap.totalStake += amount
	return nil
}

// Withdraw removes stake for a staker.
func (ap *AbsorptionPool) Withdraw(staker uuid.UUID, amount uint64) error {
	stake := ap.stakes[staker]
	if amount > stake {
		return fmt.Errorf("withdraw %d for %s (stake %d): %w",
			amount, staker, stake, ErrInsufficientStake)
	}
	ap.setStake(staker, stake-amount)
	ap.totalStake -= amount
	return nil
}

// AvailableStake returns the total stake available to absorb debt.
func (ap *AbsorptionPool) AvailableStake() uint64 {
	return ap.totalStake
}

// ComputeCoverage splits a debt amount into the portion the pool can
// absorb and the uncovered remainder.
func (ap *AbsorptionPool) ComputeCoverage(debt uint64) (covered, remaining uint64) {
	if ap.totalStake >= debt {
		return debt, 0
	}
	return ap.totalStake, debt - ap.totalStake
}

// Absorb burns debt worth of stake and books the received collateral to
// stakers pro rata. The caller must not pass debt above AvailableStake.
//
// Shares use sequential proportional allocation over stakers in
// canonical order: share_i = remaining * stake_i / remainingStake,
// truncating. The last staker absorbs the rounding remainder, so the
// total burned equals debt and the total credited equals collateral.
func (ap *AbsorptionPool) Absorb(collateral, debt uint64) error {
	if debt > ap.totalStake {
		return fmt.Errorf("absorb debt %d exceeds stake %d: %w",
			debt, ap.totalStake, ErrInsufficientStake)
	}
	if debt == 0 {
		return nil
	}

	remainingStake := ap.totalStake
	remainingDebt := debt
	remainingColl := collateral

	for _, staker := range ap.SortedStakers() {
		stake := ap.stakes[staker]

		// Shares never exceed the staker's own stake (remainingDebt <=
		// remainingStake throughout), so the divisions cannot overflow.
		burnShare, _ := fixmath.MulDiv(remainingDebt, stake, remainingStake)
		collShare, _ := fixmath.MulDiv(remainingColl, stake, remainingStake)

		ap.setStake(staker, stake-burnShare)
		if collShare > 0 {
			ap.gains[staker] += collShare
		}

		remainingStake -= stake
		remainingDebt -= burnShare
		remainingColl -= collShare
	}

	ap.totalStake -= debt
	ap.collateralBalance += collateral
	return nil
}

// StakeOf returns a staker's current stake.
func (ap *AbsorptionPool) StakeOf(staker uuid.UUID) uint64 {
	return ap.stakes[staker]
}

// CollateralGain returns a staker's claimable collateral.
func (ap *AbsorptionPool) CollateralGain(staker uuid.UUID) uint64 {
	return ap.gains[staker]
}

// ClaimCollateral zeroes and returns a staker's claimable collateral.
func (ap *AbsorptionPool) ClaimCollateral(staker uuid.UUID) uint64 {
	gain := ap.gains[staker]
	if gain == 0 {
		return 0
	}
	delete(ap.gains, staker)
	ap.collateralBalance -= gain
	return gain
}

// CollateralBalance returns the collateral held for stakers.
func (ap *AbsorptionPool) CollateralBalance() uint64 {
	return ap.collateralBalance
}

// SortedStakers returns stakers with nonzero stake in canonical order.
func (ap *AbsorptionPool) SortedStakers() []uuid.UUID {
	stakers := make([]uuid.UUID, 0, len(ap.stakes))
	for staker := range ap.stakes {
		stakers = append(stakers, staker)
	}
	sort.Slice(stakers, func(i, j int) bool {
		return bytes.Compare(stakers[i][:], stakers[j][:]) < 0
	})
	return stakers
}

// SortedGainers returns stakers with claimable collateral in canonical order.
func (ap *AbsorptionPool) SortedGainers() []uuid.UUID {
	gainers := make([]uuid.UUID, 0, len(ap.gains))
	for staker := range ap.gains {
		gainers = append(gainers, staker)
	}
	sort.Slice(gainers, func(i, j int) bool {
		return bytes.Compare(gainers[i][:], gainers[j][:]) < 0
	})
	return gainers
}

// SetStake directly installs a stake (used for snapshot restore).
func (ap *AbsorptionPool) SetStake(staker uuid.UUID, stake uint64) {
	prev := ap.stakes[staker]
	ap.setStake(staker, stake)
	ap.totalStake = ap.totalStake - prev + stake
}

// SetCollateralGain directly installs a gain (used for snapshot restore).
func (ap *AbsorptionPool) SetCollateralGain(staker uuid.UUID, gain uint64) {
	prev := ap.gains[staker]
	if gain == 0 {
		delete(ap.gains, staker)
	} else {
		ap.gains[staker] = gain
	}
	ap.collateralBalance = ap.collateralBalance - prev + gain
}

func (ap *AbsorptionPool) setStake(staker uuid.UUID, stake uint64) {
	if stake == 0 {
		delete(ap.stakes, staker)
		return
	}
	ap.stakes[staker] = stake
}
