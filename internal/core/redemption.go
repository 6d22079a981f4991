package core

import (
	"fmt"

	"KasaLedger/internal/fixmath"

	"github.com/google/uuid"
)

// RedemptionHints let a caller pre-locate the starting position so the
// walk does not rescan the ordered index. An invalid first hint falls
// back to the tail-ward scan. Upper/lower hints are accepted for wire
// compatibility; the index re-keys partially redeemed positions itself.
type RedemptionHints struct {
	First *uuid.UUID
	Upper *uuid.UUID
	Lower *uuid.UUID
}

// RedemptionResult summarizes a redemption.
type RedemptionResult struct {
	Redeemer       uuid.UUID   `json:"redeemer"`
	Requested      uint64      `json:"requested"`
	Redeemed       uint64      `json:"redeemed"`        // debt tokens burned
	CollateralPaid uint64      `json:"collateral_paid"` // collateral sent to the redeemer
	FullyRedeemed  []uuid.UUID `json:"fully_redeemed"`  // positions drained and removed
	Visited        int         `json:"visited"`
}

// redemptionStep is one planned extraction. The walk is planned against
// read-only state and committed only after the whole plan is known, so a
// late failure leaves the ledger untouched.
type redemptionStep struct {
	owner          uuid.UUID
	collateralGain uint64
	debtBurned     uint64
	full           bool
	surplus        uint64 // leftover collateral when full
}

// Redeem exchanges debt tokens for collateral at face value, walking
// positions from the lowest qualifying ratio toward higher ratios until
// the amount is exhausted or no position remains.
func (m *KasaManager) Redeem(c Capability, redeemer uuid.UUID, amount uint64, price uint64, hints RedemptionHints) (*RedemptionResult, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}

	// The redeemer must hold what they present, per the recorded token
	// balance, before anything else is evaluated.
	if m.tokens.BalanceOf(redeemer) < amount {
		return nil, ErrInsufficientBalance
	}

	start, ok := m.redemptionStart(price, hints.First)
	if !ok {
		return nil, ErrNothingToRedeem
	}

	steps, err := m.planRedemption(start, amount, price)
	if err != nil {
		return nil, err
	}

	var totalCollateral, totalDebt uint64
	for _, step := range steps {
		totalCollateral += step.collateralGain
		totalDebt += step.debtBurned
	}
	if totalCollateral == 0 {
		return nil, ErrNothingToRedeem
	}

	// Commit. Every mutation below is guaranteed to succeed against the
	// state the plan was built on; execution is single-threaded.
	result := &RedemptionResult{
		Redeemer:       redeemer,
		Requested:      amount,
		Redeemed:       totalDebt,
		CollateralPaid: totalCollateral,
		Visited:        len(steps),
	}

	for _, step := range steps {
		if step.full {
			if _, _, err := m.ledger.Remove(step.owner); err != nil {
				panic(fmt.Sprintf("FATAL: remove redeemed position %s: %v", step.owner, err))
			}
			m.index.Remove(step.owner)
			if step.surplus > 0 {
				m.surplus[step.owner] += step.surplus
			}
			result.FullyRedeemed = append(result.FullyRedeemed, step.owner)
			continue
		}

		if err := m.ledger.DecreaseDebt(step.owner, step.debtBurned); err != nil {
			panic(fmt.Sprintf("FATAL: redeem debt from %s: %v", step.owner, err))
		}
		if err := m.ledger.DecreaseCollateral(step.owner, step.collateralGain); err != nil {
			panic(fmt.Sprintf("FATAL: redeem collateral from %s: %v", step.owner, err))
		}
		m.rekey(step.owner)
	}

	if err := m.tokens.Burn(redeemer, totalDebt); err != nil {
		panic(fmt.Sprintf("FATAL: burn redeemed tokens: %v", err))
	}

	m.logger.Info().
		Str("redeemer", redeemer.String()).
		Uint64("redeemed", totalDebt).
		Uint64("collateral_paid", totalCollateral).
		Int("visited", len(steps)).
		Msg("redemption settled")

	return result, nil
}

// redemptionStart resolves the first redeemable position: the hint when
// it validates (at or above threshold with its predecessor below),
// otherwise a scan from the index tail skipping sub-threshold positions.
func (m *KasaManager) redemptionStart(price uint64, hint *uuid.UUID) (uuid.UUID, bool) {
	if hint != nil && m.validFirstHint(*hint, price) {
		return *hint, true
	}

	cursor, ok := m.index.Tail()
	for ok {
		if m.atOrAboveThreshold(cursor, price) {
			return cursor, true
		}
		cursor, ok = m.index.Next(cursor)
	}
	return uuid.Nil, false
}

// validFirstHint checks the hint is consistent with being the first
// redeemable position at the current price.
func (m *KasaManager) validFirstHint(hint uuid.UUID, price uint64) bool {
	if !m.ledger.Has(hint) || !m.index.Contains(hint) {
		return false
	}
	if !m.atOrAboveThreshold(hint, price) {
		return false
	}
	prev, ok := m.index.Prev(hint)
	if !ok {
		return true // nothing riskier exists
	}
	return !m.atOrAboveThreshold(prev, price)
}

func (m *KasaManager) atOrAboveThreshold(owner uuid.UUID, price uint64) bool {
	ratio, err := m.ledger.CollateralRatioOf(owner, price)
	if err != nil {
		return false
	}
	return fixmath.RatioPercent(ratio) >= m.riskParams.MinCollateralRatioPct
}

// planRedemption walks from start toward higher ratios, converting debt
// into collateral at face value: collateral = debt * Scalar / price,
// truncating. A partial extraction exhausts the amount and ends the
// walk.
func (m *KasaManager) planRedemption(start uuid.UUID, amount uint64, price uint64) ([]redemptionStep, error) {
	var steps []redemptionStep

	remaining := amount
	cursor := start
	for remaining > 0 {
		collateral, debt := m.ledger.Amounts(cursor)

		burn := remaining
		if debt < burn {
			burn = debt
		}

		gain, err := fixmath.MulDiv(burn, fixmath.Scalar, price)
		if err != nil {
			return nil, fmt.Errorf("redemption payout: %w", err)
		}

		step := redemptionStep{
			owner:          cursor,
			collateralGain: gain,
			debtBurned:     burn,
		}
		if burn == debt {
			step.full = true
			step.surplus = collateral - gain
		}
		steps = append(steps, step)
		remaining -= burn

		next, ok := m.index.Next(cursor)
		if !ok {
			break
		}
		cursor = next
	}

	return steps, nil
}
