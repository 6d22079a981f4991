package core

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"KasaLedger/internal/fixmath"
	"KasaLedger/internal/observability"
	"KasaLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNothingToRedeem     = errors.New("nothing to redeem")
	ErrInsufficientBalance = errors.New("insufficient debt token balance")
	ErrUndercollateralized = errors.New("position would be undercollateralized")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrNotAuthorized       = errors.New("capability not recognized")
)

// Capability gates every mutating entry point. It is issued once at
// construction and held by the boundary layer; the manager only checks
// that the presented token is the one it issued.
type Capability struct {
	id uuid.UUID
}

// OrderedIndex is the external structure keeping positions sorted by
// their nominal ratio proxy. The manager re-keys an owner on every
// mutation that changes the ordering key.
type OrderedIndex interface {
	Insert(owner uuid.UUID, nicr uint64)
	Update(owner uuid.UUID, nicr uint64)
	Remove(owner uuid.UUID)
	Contains(owner uuid.UUID) bool
	Prev(owner uuid.UUID) (uuid.UUID, bool)
	Next(owner uuid.UUID) (uuid.UUID, bool)
	Tail() (uuid.UUID, bool)
	Len() int
}

// TokenLedger is the external debt-token mint/burn/balance ledger.
type TokenLedger interface {
	Mint(to uuid.UUID, amount uint64) error
	Burn(from uuid.UUID, amount uint64) error
	Transfer(from, to uuid.UUID, amount uint64) error
	BalanceOf(owner uuid.UUID) uint64
}

// AbsorptionPool is the external staked pool that absorbs liquidated
// debt in exchange for collateral.
type AbsorptionPool interface {
	Deposit(staker uuid.UUID, amount uint64) error
	Withdraw(staker uuid.UUID, amount uint64) error
	AvailableStake() uint64
	ComputeCoverage(debt uint64) (covered, remaining uint64)
	Absorb(collateral, debt uint64) error
	ClaimCollateral(staker uuid.UUID) uint64
}

// PositionNotice is the structured notification emitted by position
// entry points: {owner, collateral, debt} after the operation.
type PositionNotice struct {
	Owner      uuid.UUID `json:"owner"`
	Collateral uint64    `json:"collateral"`
	Debt       uint64    `json:"debt"`
}

// KasaManager is the entry surface of the protocol core: it creates and
// adjusts positions and runs batch liquidation and redemption. It is the
// only writer of the position ledger, the ordered index, the token
// ledger and the pool, so the aggregate invariants hold after every
// operation.
//
// Not thread-safe — driven by the single-threaded deterministic core.
type KasaManager struct {
	ledger *state.PositionLedger
	index  OrderedIndex
	tokens TokenLedger
	pool   AbsorptionPool

	riskParams state.RiskParams

	// Debt-token custody account for pool stake.
	poolAccount uuid.UUID

	// Collateral left over when a redemption fully drains a position,
	// claimable by the original owner.
	surplus map[uuid.UUID]uint64

	// Liquidation remainders with no open position left to receive
	// them. Tracked explicitly so nothing is dropped.
	unbackedDebt       uint64
	orphanedCollateral uint64

	capID  uuid.UUID
	logger zerolog.Logger
}

// NewKasaManager wires the manager against its collaborators and issues
// the capability that authorizes mutating calls.
func NewKasaManager(
	ledger *state.PositionLedger,
	index OrderedIndex,
	tokens TokenLedger,
	pool AbsorptionPool,
	riskParams state.RiskParams,
) (*KasaManager, Capability, error) {
	if err := state.ValidateRiskParams(riskParams); err != nil {
		return nil, Capability{}, fmt.Errorf("risk params: %w", err)
	}

	capID := uuid.New()
	m := &KasaManager{
		ledger:      ledger,
		index:       index,
		tokens:      tokens,
		pool:        pool,
		riskParams:  riskParams,
		poolAccount: uuid.NewSHA1(uuid.NameSpaceOID, []byte("kasa:pool-custody")),
		surplus:     make(map[uuid.UUID]uint64),
		capID:       capID,
		logger:      observability.NewLogger("kasa_manager"),
	}
	return m, Capability{id: capID}, nil
}

func (m *KasaManager) authorize(c Capability) error {
	if c.id == uuid.Nil || c.id != m.capID {
		return ErrNotAuthorized
	}
	return nil
}

// RecoveryMode reports whether the system as a whole is below the
// recovery threshold at the given price. An empty system is never in
// recovery mode.
func (m *KasaManager) RecoveryMode(price uint64) bool {
	totalColl, totalDebt := m.ledger.Totals()
	if totalDebt == 0 {
		return false
	}
	solvent, err := fixmath.IsSolvent(totalColl, totalDebt, price, m.riskParams.RecoveryRatioPct)
	if err != nil {
		return false
	}
	return !solvent
}

// Open creates a new position: collateralIn moves into protocol custody,
// debtOut debt tokens are minted to the owner. The resulting position
// must be solvent at the applicable threshold.
func (m *KasaManager) Open(c Capability, owner uuid.UUID, collateralIn, debtOut, price uint64) (*PositionNotice, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}
	if debtOut == 0 {
		return nil, state.ErrInsufficientDebt
	}

	threshold := m.riskParams.Threshold(m.RecoveryMode(price))
	solvent, err := fixmath.IsSolvent(collateralIn, debtOut, price, threshold)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", owner, err)
	}
	if !solvent {
		return nil, ErrUndercollateralized
	}

	if err := m.ledger.Create(owner, collateralIn, debtOut); err != nil {
		return nil, err
	}
	nicr, err := m.ledger.NominalRatioOf(owner)
	if err != nil {
		return nil, err
	}
	m.index.Insert(owner, nicr)

	if err := m.tokens.Mint(owner, debtOut); err != nil {
		panic(fmt.Sprintf("FATAL: mint on open: %v", err))
	}

	m.logger.Info().
		Str("owner", owner.String()).
		Uint64("collateral", collateralIn).
		Uint64("debt", debtOut).
		Msg("position opened")

	return &PositionNotice{Owner: owner, Collateral: collateralIn, Debt: debtOut}, nil
}

// AddCollateral tops up an existing position.
func (m *KasaManager) AddCollateral(c Capability, owner uuid.UUID, amount uint64) (*PositionNotice, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}
	if err := m.ledger.IncreaseCollateral(owner, amount); err != nil {
		return nil, err
	}
	m.rekey(owner)
	return m.notice(owner), nil
}

// WithdrawCollateral releases collateral to the owner; the position must
// remain solvent at the applicable threshold.
func (m *KasaManager) WithdrawCollateral(c Capability, owner uuid.UUID, amount uint64, price uint64) (*PositionNotice, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}

	collateral, debt := m.ledger.Amounts(owner)
	if debt == 0 && collateral == 0 {
		return nil, state.ErrPositionNotFound
	}
	if amount > collateral {
		return nil, state.ErrInsufficientCollateral
	}

	threshold := m.riskParams.Threshold(m.RecoveryMode(price))
	solvent, err := fixmath.IsSolvent(collateral-amount, debt, price, threshold)
	if err != nil {
		return nil, fmt.Errorf("withdraw collateral for %s: %w", owner, err)
	}
	if !solvent {
		return nil, ErrUndercollateralized
	}

	if err := m.ledger.DecreaseCollateral(owner, amount); err != nil {
		return nil, err
	}
	m.rekey(owner)
	return m.notice(owner), nil
}

// MintDebt mints additional debt tokens against an existing position;
// the position must remain solvent at the applicable threshold.
func (m *KasaManager) MintDebt(c Capability, owner uuid.UUID, amount uint64, price uint64) (*PositionNotice, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}

	collateral, debt := m.ledger.Amounts(owner)
	if debt == 0 {
		return nil, state.ErrPositionNotFound
	}

	threshold := m.riskParams.Threshold(m.RecoveryMode(price))
	solvent, err := fixmath.IsSolvent(collateral, debt+amount, price, threshold)
	if err != nil {
		return nil, fmt.Errorf("mint debt for %s: %w", owner, err)
	}
	if !solvent {
		return nil, ErrUndercollateralized
	}

	if err := m.ledger.IncreaseDebt(owner, amount); err != nil {
		return nil, err
	}
	if err := m.tokens.Mint(owner, amount); err != nil {
		panic(fmt.Sprintf("FATAL: mint after debt increase: %v", err))
	}
	m.rekey(owner)
	return m.notice(owner), nil
}

// RepayDebt burns debt tokens supplied by the owner against the
// position. Repaying the full debt closes the position and returns its
// collateral.
func (m *KasaManager) RepayDebt(c Capability, owner uuid.UUID, amount uint64) (*PositionNotice, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}

	_, debt := m.ledger.Amounts(owner)
	if debt == 0 {
		return nil, state.ErrPositionNotFound
	}
	if amount > debt {
		return nil, state.ErrInsufficientDebt
	}
	if amount == debt {
		return m.close(owner)
	}

	// Burn exactly the supplied amount; the ledger mutation follows only
	// after the burn succeeds so a failed burn leaves no partial state.
	if err := m.tokens.Burn(owner, amount); err != nil {
		return nil, fmt.Errorf("repay debt for %s: %w", owner, err)
	}
	if err := m.ledger.DecreaseDebt(owner, amount); err != nil {
		panic(fmt.Sprintf("FATAL: decrease debt after burn: %v", err))
	}
	m.rekey(owner)
	return m.notice(owner), nil
}

// Close repays all remaining debt and removes the position, returning
// its collateral to the owner.
func (m *KasaManager) Close(c Capability, owner uuid.UUID) (*PositionNotice, error) {
	if err := m.authorize(c); err != nil {
		return nil, err
	}
	if !m.ledger.Has(owner) {
		return nil, state.ErrPositionNotFound
	}
	return m.close(owner)
}

func (m *KasaManager) close(owner uuid.UUID) (*PositionNotice, error) {
	_, debt := m.ledger.Amounts(owner)
	if err := m.tokens.Burn(owner, debt); err != nil {
		return nil, fmt.Errorf("close %s: %w", owner, err)
	}
	collateral, _, err := m.ledger.Remove(owner)
	if err != nil {
		panic(fmt.Sprintf("FATAL: remove on close after burn: %v", err))
	}
	m.index.Remove(owner)

	m.logger.Info().
		Str("owner", owner.String()).
		Uint64("collateral_returned", collateral).
		Msg("position closed")

	// Collateral leaves protocol custody; the payout amount rides on the
	// notice.
	return &PositionNotice{Owner: owner, Collateral: collateral, Debt: 0}, nil
}

// PoolDeposit stakes debt tokens into the absorption pool. Tokens move
// into pool custody; the pool tracks the stake.
func (m *KasaManager) PoolDeposit(c Capability, staker uuid.UUID, amount uint64) error {
	if err := m.authorize(c); err != nil {
		return err
	}
	if err := m.tokens.Transfer(staker, m.poolAccount, amount); err != nil {
		return err
	}
	if err := m.pool.Deposit(staker, amount); err != nil {
		panic(fmt.Sprintf("FATAL: pool deposit after transfer: %v", err))
	}
	return nil
}

// PoolWithdraw unstakes debt tokens from the absorption pool.
func (m *KasaManager) PoolWithdraw(c Capability, staker uuid.UUID, amount uint64) error {
	if err := m.authorize(c); err != nil {
		return err
	}
	if err := m.pool.Withdraw(staker, amount); err != nil {
		return err
	}
	if err := m.tokens.Transfer(m.poolAccount, staker, amount); err != nil {
		panic(fmt.Sprintf("FATAL: pool custody transfer after withdraw: %v", err))
	}
	return nil
}

// ClaimPoolCollateral pays out a staker's accumulated liquidation gains.
func (m *KasaManager) ClaimPoolCollateral(c Capability, staker uuid.UUID) (uint64, error) {
	if err := m.authorize(c); err != nil {
		return 0, err
	}
	gain := m.pool.ClaimCollateral(staker)
	if gain == 0 {
		return 0, ErrNothingToClaim
	}
	return gain, nil
}

// ClaimSurplus pays out collateral left over after a redemption fully
// drained the owner's position.
func (m *KasaManager) ClaimSurplus(c Capability, owner uuid.UUID) (uint64, error) {
	if err := m.authorize(c); err != nil {
		return 0, err
	}
	amount := m.surplus[owner]
	if amount == 0 {
		return 0, ErrNothingToClaim
	}
	delete(m.surplus, owner)
	return amount, nil
}

// UpdateRiskParams installs new solvency thresholds after validation.
func (m *KasaManager) UpdateRiskParams(c Capability, params state.RiskParams) error {
	if err := m.authorize(c); err != nil {
		return err
	}
	if err := state.ValidateRiskParams(params); err != nil {
		return err
	}
	m.riskParams = params
	return nil
}

// RiskParams returns the active solvency thresholds.
func (m *KasaManager) RiskParams() state.RiskParams {
	return m.riskParams
}

// SurplusOf returns an owner's claimable redemption surplus.
func (m *KasaManager) SurplusOf(owner uuid.UUID) uint64 {
	return m.surplus[owner]
}

// UnbackedDebt returns debt that had no open position left to be
// redistributed to during liquidation.
func (m *KasaManager) UnbackedDebt() uint64 {
	return m.unbackedDebt
}

// OrphanedCollateral returns collateral matching the unbacked debt.
func (m *KasaManager) OrphanedCollateral() uint64 {
	return m.orphanedCollateral
}

// PoolAccount returns the debt-token custody account for pool stake.
func (m *KasaManager) PoolAccount() uuid.UUID {
	return m.poolAccount
}

// SortedSurplusHolders returns owners with claimable surplus in
// canonical order for deterministic digests and snapshots.
func (m *KasaManager) SortedSurplusHolders() []uuid.UUID {
	holders := make([]uuid.UUID, 0, len(m.surplus))
	for owner := range m.surplus {
		holders = append(holders, owner)
	}
	sort.Slice(holders, func(i, j int) bool {
		return bytes.Compare(holders[i][:], holders[j][:]) < 0
	})
	return holders
}

// RestoreSurplus directly installs a surplus entry (snapshot restore).
func (m *KasaManager) RestoreSurplus(owner uuid.UUID, amount uint64) {
	if amount == 0 {
		delete(m.surplus, owner)
		return
	}
	m.surplus[owner] = amount
}

// RestoreRemainders directly installs the liquidation remainder buckets
// (snapshot restore).
func (m *KasaManager) RestoreRemainders(unbackedDebt, orphanedCollateral uint64) {
	m.unbackedDebt = unbackedDebt
	m.orphanedCollateral = orphanedCollateral
}

// rekey refreshes an owner's position in the ordered index after a
// mutation that changed its nominal ratio.
func (m *KasaManager) rekey(owner uuid.UUID) {
	nicr, err := m.ledger.NominalRatioOf(owner)
	if err != nil {
		panic(fmt.Sprintf("FATAL: nominal ratio for open position %s: %v", owner, err))
	}
	m.index.Update(owner, nicr)
}

func (m *KasaManager) notice(owner uuid.UUID) *PositionNotice {
	collateral, debt := m.ledger.Amounts(owner)
	return &PositionNotice{Owner: owner, Collateral: collateral, Debt: debt}
}
