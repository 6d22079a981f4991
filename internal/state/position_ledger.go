package state

import (
	"bytes"
	"sort"

	"KasaLedger/internal/fixmath"

	"github.com/google/uuid"
)

// PositionLedger owns the set of open positions and the protocol-wide
// aggregate totals. The Kasa manager is the only writer; aggregates are
// updated in the same step as the position they mirror, never deferred,
// so total_collateral == sum(position collateral) and total_debt ==
// sum(position debt) hold after every operation.
type PositionLedger struct {
	positions       map[uuid.UUID]*Position
	totalCollateral uint64
	totalDebt       uint64
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[uuid.UUID]*Position),
	}
}

// Create registers a new position and increments both aggregates.
func (pl *PositionLedger) Create(owner uuid.UUID, collateral, debt uint64) error {
	if _, exists := pl.positions[owner]; exists {
		return ErrPositionExists
	}
	if collateral == 0 && debt > 0 {
		return ErrInsufficientCollateral
	}
	if pl.totalCollateral+collateral < pl.totalCollateral || pl.totalDebt+debt < pl.totalDebt {
		return fixmath.ErrOverflow
	}

	pl.positions[owner] = &Position{
		Owner:      owner,
		Collateral: collateral,
		Debt:       debt,
	}
	pl.totalCollateral += collateral
	pl.totalDebt += debt
	return nil
}

// IncreaseCollateral adds collateral to a position and the aggregate.
func (pl *PositionLedger) IncreaseCollateral(owner uuid.UUID, amount uint64) error {
	pos, ok := pl.positions[owner]
	if !ok {
		return ErrPositionNotFound
	}
	if pos.Collateral+amount < pos.Collateral || pl.totalCollateral+amount < pl.totalCollateral {
		return fixmath.ErrOverflow
	}
	pos.Collateral += amount
	pl.totalCollateral += amount
	return nil
}

// DecreaseCollateral removes collateral from a position and the aggregate.
// Fails on underflow, and refuses to strip a debt-bearing position bare.
func (pl *PositionLedger) DecreaseCollateral(owner uuid.UUID, amount uint64) error {
	pos, ok := pl.positions[owner]
	if !ok {
		return ErrPositionNotFound
	}
	if amount > pos.Collateral {
		return ErrInsufficientCollateral
	}
	if pos.Collateral-amount == 0 && pos.Debt > 0 {
		return ErrInsufficientCollateral
	}
	pos.Collateral -= amount
	pl.totalCollateral -= amount
	return nil
}

// IncreaseDebt adds debt to a position and the aggregate.
func (pl *PositionLedger) IncreaseDebt(owner uuid.UUID, amount uint64) error {
	pos, ok := pl.positions[owner]
	if !ok {
		return ErrPositionNotFound
	}
	if pos.Debt+amount < pos.Debt || pl.totalDebt+amount < pl.totalDebt {
		return fixmath.ErrOverflow
	}
	pos.Debt += amount
	pl.totalDebt += amount
	return nil
}

// DecreaseDebt removes debt from a position and the aggregate.
func (pl *PositionLedger) DecreaseDebt(owner uuid.UUID, amount uint64) error {
	pos, ok := pl.positions[owner]
	if !ok {
		return ErrPositionNotFound
	}
	if amount > pos.Debt {
		return ErrInsufficientDebt
	}
	pos.Debt -= amount
	pl.totalDebt -= amount
	return nil
}

// Remove deletes a position, returning its extracted amounts. Both
// aggregates are decremented; the caller is responsible for routing the
// extracted collateral and debt (absorption, redistribution, payout) so
// nothing is silently discarded.
func (pl *PositionLedger) Remove(owner uuid.UUID) (collateral, debt uint64, err error) {
	pos, ok := pl.positions[owner]
	if !ok {
		return 0, 0, ErrPositionNotFound
	}
	delete(pl.positions, owner)
	pl.totalCollateral -= pos.Collateral
	pl.totalDebt -= pos.Debt
	return pos.Collateral, pos.Debt, nil
}

// Amounts returns a position's amounts; a missing owner reads as zeros.
func (pl *PositionLedger) Amounts(owner uuid.UUID) (collateral, debt uint64) {
	pos, ok := pl.positions[owner]
	if !ok {
		return 0, 0
	}
	return pos.Collateral, pos.Debt
}

// Has reports whether an open position exists for owner.
func (pl *PositionLedger) Has(owner uuid.UUID) bool {
	_, ok := pl.positions[owner]
	return ok
}

// Totals returns the aggregate collateral and debt balances.
func (pl *PositionLedger) Totals() (collateral, debt uint64) {
	return pl.totalCollateral, pl.totalDebt
}

// Len returns the number of open positions.
func (pl *PositionLedger) Len() int {
	return len(pl.positions)
}

// CollateralRatioOf computes a position's ratio at the given price.
func (pl *PositionLedger) CollateralRatioOf(owner uuid.UUID, price uint64) (uint64, error) {
	pos, ok := pl.positions[owner]
	if !ok {
		return 0, ErrPositionNotFound
	}
	return fixmath.CollateralRatio(pos.Collateral, pos.Debt, price)
}

// NominalRatioOf computes a position's ordering proxy.
func (pl *PositionLedger) NominalRatioOf(owner uuid.UUID) (uint64, error) {
	pos, ok := pl.positions[owner]
	if !ok {
		return 0, ErrPositionNotFound
	}
	return fixmath.NominalCollateralRatio(pos.Collateral, pos.Debt)
}

// SortedOwners returns owners in canonical (byte-wise) order for
// deterministic iteration: state digests and redistribution must not
// depend on map ordering.
func (pl *PositionLedger) SortedOwners() []uuid.UUID {
	owners := make([]uuid.UUID, 0, len(pl.positions))
	for owner := range pl.positions {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		return bytes.Compare(owners[i][:], owners[j][:]) < 0
	})
	return owners
}

// AllPositions returns copies of all open positions in canonical order.
func (pl *PositionLedger) AllPositions() []*Position {
	result := make([]*Position, 0, len(pl.positions))
	for _, owner := range pl.SortedOwners() {
		pos := *pl.positions[owner]
		result = append(result, &pos)
	}
	return result
}

// SetPosition directly installs a position (used for snapshot restore).
// Aggregates are adjusted to stay in sync.
func (pl *PositionLedger) SetPosition(pos *Position) {
	if prev, ok := pl.positions[pos.Owner]; ok {
		pl.totalCollateral -= prev.Collateral
		pl.totalDebt -= prev.Debt
	}
	copied := *pos
	pl.positions[pos.Owner] = &copied
	pl.totalCollateral += pos.Collateral
	pl.totalDebt += pos.Debt
}
