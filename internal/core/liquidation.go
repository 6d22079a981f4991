package core

import (
	"fmt"

	"KasaLedger/internal/fixmath"
	"KasaLedger/internal/state"

	"github.com/google/uuid"
)

// LiquidatedPosition records one removed position and how its debt was
// settled.
type LiquidatedPosition struct {
	Owner             uuid.UUID `json:"owner"`
	Collateral        uint64    `json:"collateral"`
	Debt              uint64    `json:"debt"`
	AbsorbedDebt      uint64    `json:"absorbed_debt"`
	RedistributedDebt uint64    `json:"redistributed_debt"`
}

// LiquidationResult summarizes a batch.
type LiquidationResult struct {
	Liquidated []LiquidatedPosition `json:"liquidated"`
	Skipped    []uuid.UUID          `json:"skipped"` // solvent candidates
}

// LiquidateBatch evaluates each candidate independently at the current
// price and the normal-mode threshold. Solvent candidates are skipped
// and the batch continues; only ledger inconsistency (a candidate with
// no open position) aborts the remaining batch.
//
// For each insolvent candidate the position is removed, the pool absorbs
// as much debt as its stake covers in exchange for the matching share of
// collateral, and any uncovered remainder is redistributed pro rata by
// collateral to the remaining open positions.
func (m *KasaManager) LiquidateBatch(c Capability, candidates []uuid.UUID, price uint64) (*LiquidationResult, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}

	result := &LiquidationResult{}

	for _, candidate := range candidates {
		if !m.ledger.Has(candidate) {
			return result, fmt.Errorf("liquidate %s: %w", candidate, state.ErrPositionNotFound)
		}

		collateral, debt := m.ledger.Amounts(candidate)
		solvent, err := fixmath.IsSolvent(collateral, debt, price, m.riskParams.MinCollateralRatioPct)
		if err != nil {
			return result, fmt.Errorf("liquidate %s: %w", candidate, err)
		}
		if solvent {
			result.Skipped = append(result.Skipped, candidate)
			continue
		}

		entry, err := m.liquidate(candidate, price)
		if err != nil {
			return result, err
		}
		result.Liquidated = append(result.Liquidated, *entry)
	}

	if len(result.Liquidated) > 0 {
		m.logger.Info().
			Int("liquidated", len(result.Liquidated)).
			Int("skipped", len(result.Skipped)).
			Uint64("price", price).
			Msg("liquidation batch settled")
	}

	return result, nil
}

// liquidate removes one insolvent position and settles its debt.
func (m *KasaManager) liquidate(owner uuid.UUID, price uint64) (*LiquidatedPosition, error) {
	collateral, debt, err := m.ledger.Remove(owner)
	if err != nil {
		return nil, fmt.Errorf("liquidate %s: %w", owner, err)
	}
	m.index.Remove(owner)

	covered, remaining := m.pool.ComputeCoverage(debt)

	// Collateral follows the debt split: the pool receives the share
	// backing the debt it absorbs, the rest goes to redistribution.
	collateralToPool := collateral
	if remaining > 0 {
		collateralToPool, err = fixmath.MulDiv(collateral, covered, debt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: collateral split for %s: %v", owner, err))
		}
	}

	if covered > 0 {
		if err := m.pool.Absorb(collateralToPool, covered); err != nil {
			panic(fmt.Sprintf("FATAL: pool absorb for %s: %v", owner, err))
		}
		// Stake burned by the pool corresponds to debt tokens held in
		// pool custody; burn them so supply tracks outstanding debt.
		if err := m.tokens.Burn(m.poolAccount, covered); err != nil {
			panic(fmt.Sprintf("FATAL: burn pool stake for %s: %v", owner, err))
		}
	}

	if remaining > 0 {
		m.redistribute(collateral-collateralToPool, remaining)
	}

	return &LiquidatedPosition{
		Owner:             owner,
		Collateral:        collateral,
		Debt:              debt,
		AbsorbedDebt:      covered,
		RedistributedDebt: remaining,
	}, nil
}

// redistribute re-attaches uncovered debt and its collateral to the
// remaining open positions, pro rata by collateral. Shares use
// sequential proportional allocation over owners in canonical order so
// the totals are exact and the outcome deterministic. With no open
// positions left the remainder is booked to explicit buckets.
func (m *KasaManager) redistribute(collateral, debt uint64) {
	owners := m.ledger.SortedOwners()
	totalColl, _ := m.ledger.Totals()

	if len(owners) == 0 || totalColl == 0 {
		m.unbackedDebt += debt
		m.orphanedCollateral += collateral
		m.logger.Warn().
			Uint64("debt", debt).
			Uint64("collateral", collateral).
			Msg("no positions left for redistribution")
		return
	}

	// Weights are the recipients' collateral before any share lands.
	weights := make([]uint64, len(owners))
	for i, owner := range owners {
		weights[i], _ = m.ledger.Amounts(owner)
	}

	remainingWeight := totalColl
	remainingColl := collateral
	remainingDebt := debt

	for i, owner := range owners {
		collShare, err := fixmath.MulDiv(remainingColl, weights[i], remainingWeight)
		if err != nil {
			panic(fmt.Sprintf("FATAL: redistribution share: %v", err))
		}
		debtShare, err := fixmath.MulDiv(remainingDebt, weights[i], remainingWeight)
		if err != nil {
			panic(fmt.Sprintf("FATAL: redistribution share: %v", err))
		}

		if collShare > 0 {
			if err := m.ledger.IncreaseCollateral(owner, collShare); err != nil {
				panic(fmt.Sprintf("FATAL: redistribute collateral to %s: %v", owner, err))
			}
		}
		if debtShare > 0 {
			if err := m.ledger.IncreaseDebt(owner, debtShare); err != nil {
				panic(fmt.Sprintf("FATAL: redistribute debt to %s: %v", owner, err))
			}
		}
		m.rekey(owner)

		remainingWeight -= weights[i]
		remainingColl -= collShare
		remainingDebt -= debtShare
	}
}
