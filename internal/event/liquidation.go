package event

import "github.com/google/uuid"

// LiquidationRequest names a batch of candidate positions to liquidate
// at the current price. Candidates are evaluated independently; solvent
// ones are skipped without affecting the rest of the batch.
type LiquidationRequest struct {
	LiquidationID uuid.UUID   `json:"liquidation_id"`
	Candidates    []uuid.UUID `json:"candidates"`
	Sequence      int64       `json:"sequence"`
	TimestampUs   int64       `json:"timestamp_us"`
}

func (e *LiquidationRequest) IdempotencyKey() string { return e.LiquidationID.String() }
func (e *LiquidationRequest) EventType() EventType   { return EventTypeLiquidationRequest }
func (e *LiquidationRequest) Owner() *string         { return nil }
func (e *LiquidationRequest) SourceSequence() int64  { return e.Sequence }
