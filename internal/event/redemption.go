package event

import "github.com/google/uuid"

// RedemptionRequest exchanges debt tokens for collateral at face value,
// walking positions from the lowest qualifying ratio upward. The hints
// let the caller pre-locate the starting position; invalid hints fall
// back to a tail-ward scan.
type RedemptionRequest struct {
	RedemptionID uuid.UUID `json:"redemption_id"`
	RedeemerID   uuid.UUID `json:"redeemer_id"`
	Amount       uint64    `json:"amount"` // debt tokens to redeem

	FirstHint *uuid.UUID `json:"first_hint,omitempty"` // candidate starting position
	UpperHint *uuid.UUID `json:"upper_hint,omitempty"` // re-insert neighbors for a partially redeemed position
	LowerHint *uuid.UUID `json:"lower_hint,omitempty"`

	Sequence    int64 `json:"sequence"`
	TimestampUs int64 `json:"timestamp_us"`
}

func (e *RedemptionRequest) IdempotencyKey() string { return e.RedemptionID.String() }
func (e *RedemptionRequest) EventType() EventType   { return EventTypeRedemptionRequest }
func (e *RedemptionRequest) Owner() *string         { return ownerRef(e.RedeemerID) }
func (e *RedemptionRequest) SourceSequence() int64  { return e.Sequence }
