package event

import "github.com/google/uuid"

// PoolDeposit stakes debt tokens into the absorption pool.
type PoolDeposit struct {
	OpID        uuid.UUID `json:"op_id"`
	StakerID    uuid.UUID `json:"staker_id"`
	Amount      uint64    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *PoolDeposit) IdempotencyKey() string { return e.OpID.String() }
func (e *PoolDeposit) EventType() EventType   { return EventTypePoolDeposit }
func (e *PoolDeposit) Owner() *string         { return ownerRef(e.StakerID) }
func (e *PoolDeposit) SourceSequence() int64  { return e.Sequence }

// PoolWithdraw unstakes debt tokens from the absorption pool.
type PoolWithdraw struct {
	OpID        uuid.UUID `json:"op_id"`
	StakerID    uuid.UUID `json:"staker_id"`
	Amount      uint64    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *PoolWithdraw) IdempotencyKey() string { return e.OpID.String() }
func (e *PoolWithdraw) EventType() EventType   { return EventTypePoolWithdraw }
func (e *PoolWithdraw) Owner() *string         { return ownerRef(e.StakerID) }
func (e *PoolWithdraw) SourceSequence() int64  { return e.Sequence }

// ClaimPoolCollateral pays out a staker's accumulated liquidation gains.
type ClaimPoolCollateral struct {
	OpID        uuid.UUID `json:"op_id"`
	StakerID    uuid.UUID `json:"staker_id"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *ClaimPoolCollateral) IdempotencyKey() string { return e.OpID.String() }
func (e *ClaimPoolCollateral) EventType() EventType   { return EventTypeClaimPoolCollateral }
func (e *ClaimPoolCollateral) Owner() *string         { return ownerRef(e.StakerID) }
func (e *ClaimPoolCollateral) SourceSequence() int64  { return e.Sequence }
