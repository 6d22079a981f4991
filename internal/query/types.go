package query

import "github.com/google/uuid"

// PositionResponse represents a position for API queries. Ratio fields
// are derived at query time from the last applied price.
type PositionResponse struct {
	Owner           uuid.UUID `json:"owner"`
	Collateral      int64     `json:"collateral"`
	Debt            int64     `json:"debt"`
	CollateralRatio uint64    `json:"collateral_ratio,omitempty"` // fixed-point, Scalar scale
	Price           uint64    `json:"price,omitempty"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// LiquidationRecord represents one liquidated position for API queries.
type LiquidationRecord struct {
	Sequence          int64     `json:"sequence"`
	Owner             uuid.UUID `json:"owner"`
	Collateral        int64     `json:"collateral"`
	Debt              int64     `json:"debt"`
	AbsorbedDebt      int64     `json:"absorbed_debt"`
	RedistributedDebt int64     `json:"redistributed_debt"`
	Timestamp         int64     `json:"timestamp"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// RedemptionRecord represents a settled redemption for API queries.
type RedemptionRecord struct {
	Sequence       int64     `json:"sequence"`
	Redeemer       uuid.UUID `json:"redeemer"`
	Requested      int64     `json:"requested"`
	Redeemed       int64     `json:"redeemed"`
	CollateralPaid int64     `json:"collateral_paid"`
	Visited        int       `json:"visited"`
	Timestamp      int64     `json:"timestamp"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// EventRecord represents an event log row for API queries.
type EventRecord struct {
	Sequence       int64   `json:"sequence"`
	EventType      string  `json:"event_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	Owner          *string `json:"owner,omitempty"`
	Payload        []byte  `json:"payload,omitempty"`
	Timestamp      int64   `json:"timestamp"`
	SourceSequence int64   `json:"source_sequence"`
}

// SystemStateResponse summarizes protocol-wide aggregates.
type SystemStateResponse struct {
	PositionsOpen   int64 `json:"positions_open"`
	TotalCollateral int64 `json:"total_collateral"`
	TotalDebt       int64 `json:"total_debt"`
	AsOfSequence    int64 `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
