package event

import "github.com/google/uuid"

// OpenPosition opens a new kasa: collateral locked, debt minted.
type OpenPosition struct {
	OpID        uuid.UUID `json:"op_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Collateral  uint64    `json:"collateral"`
	Debt        uint64    `json:"debt"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *OpenPosition) IdempotencyKey() string { return e.OpID.String() }
func (e *OpenPosition) EventType() EventType   { return EventTypeOpenPosition }
func (e *OpenPosition) Owner() *string         { return ownerRef(e.OwnerID) }
func (e *OpenPosition) SourceSequence() int64  { return e.Sequence }

// AddCollateral tops up an existing position.
type AddCollateral struct {
	OpID        uuid.UUID `json:"op_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Amount      uint64    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *AddCollateral) IdempotencyKey() string { return e.OpID.String() }
func (e *AddCollateral) EventType() EventType   { return EventTypeAddCollateral }
func (e *AddCollateral) Owner() *string         { return ownerRef(e.OwnerID) }
func (e *AddCollateral) SourceSequence() int64  { return e.Sequence }

// WithdrawCollateral releases collateral back to the owner; the position
// must stay solvent.
type WithdrawCollateral struct {
	OpID        uuid.UUID `json:"op_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Amount      uint64    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *WithdrawCollateral) IdempotencyKey() string { return e.OpID.String() }
func (e *WithdrawCollateral) EventType() EventType   { return EventTypeWithdrawCollateral }
func (e *WithdrawCollateral) Owner() *string         { return ownerRef(e.OwnerID) }
func (e *WithdrawCollateral) SourceSequence() int64  { return e.Sequence }

// MintDebt mints additional debt tokens against an existing position.
type MintDebt struct {
	OpID        uuid.UUID `json:"op_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Amount      uint64    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *MintDebt) IdempotencyKey() string { return e.OpID.String() }
func (e *MintDebt) EventType() EventType   { return EventTypeMintDebt }
func (e *MintDebt) Owner() *string         { return ownerRef(e.OwnerID) }
func (e *MintDebt) SourceSequence() int64  { return e.Sequence }

// RepayDebt burns debt tokens supplied by the owner against the position.
type RepayDebt struct {
	OpID        uuid.UUID `json:"op_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Amount      uint64    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *RepayDebt) IdempotencyKey() string { return e.OpID.String() }
func (e *RepayDebt) EventType() EventType   { return EventTypeRepayDebt }
func (e *RepayDebt) Owner() *string         { return ownerRef(e.OwnerID) }
func (e *RepayDebt) SourceSequence() int64  { return e.Sequence }

// ClosePosition repays all remaining debt and returns the collateral.
type ClosePosition struct {
	OpID        uuid.UUID `json:"op_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *ClosePosition) IdempotencyKey() string { return e.OpID.String() }
func (e *ClosePosition) EventType() EventType   { return EventTypeClosePosition }
func (e *ClosePosition) Owner() *string         { return ownerRef(e.OwnerID) }
func (e *ClosePosition) SourceSequence() int64  { return e.Sequence }

// ClaimSurplus pays out collateral left over after a full redemption
// drained the owner's position.
type ClaimSurplus struct {
	OpID        uuid.UUID `json:"op_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *ClaimSurplus) IdempotencyKey() string { return e.OpID.String() }
func (e *ClaimSurplus) EventType() EventType   { return EventTypeClaimSurplus }
func (e *ClaimSurplus) Owner() *string         { return ownerRef(e.OwnerID) }
func (e *ClaimSurplus) SourceSequence() int64  { return e.Sequence }

func ownerRef(id uuid.UUID) *string {
	s := id.String()
	return &s
}
