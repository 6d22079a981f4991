package event

import "fmt"

// RiskParamUpdate changes the protocol solvency thresholds.
type RiskParamUpdate struct {
	MinCollateralRatioPct uint64 `json:"min_collateral_ratio_pct"`
	RecoveryRatioPct      uint64 `json:"recovery_ratio_pct"`
	EffectiveSeq          int64  `json:"effective_seq"`
	Sequence              int64  `json:"sequence"`
	TimestampUs           int64  `json:"timestamp_us"`
}

func (e *RiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("riskparam:%d", e.Sequence)
}

func (e *RiskParamUpdate) EventType() EventType  { return EventTypeRiskParamUpdate }
func (e *RiskParamUpdate) Owner() *string        { return nil }
func (e *RiskParamUpdate) SourceSequence() int64 { return e.Sequence }
