package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePriceUpdate
	EventTypeOpenPosition
	EventTypeAddCollateral
	EventTypeWithdrawCollateral
	EventTypeMintDebt
	EventTypeRepayDebt
	EventTypeClosePosition
	EventTypeLiquidationRequest
	EventTypeRedemptionRequest
	EventTypePoolDeposit
	EventTypePoolWithdraw
	EventTypeClaimPoolCollateral
	EventTypeClaimSurplus
	EventTypeRiskParamUpdate
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Owner context (nullable for global events like price updates)
	Owner *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Owner returns the owner context (nil for global events)
	Owner() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeOpenPosition:
		return "OpenPosition"
	case EventTypeAddCollateral:
		return "AddCollateral"
	case EventTypeWithdrawCollateral:
		return "WithdrawCollateral"
	case EventTypeMintDebt:
		return "MintDebt"
	case EventTypeRepayDebt:
		return "RepayDebt"
	case EventTypeClosePosition:
		return "ClosePosition"
	case EventTypeLiquidationRequest:
		return "LiquidationRequest"
	case EventTypeRedemptionRequest:
		return "RedemptionRequest"
	case EventTypePoolDeposit:
		return "PoolDeposit"
	case EventTypePoolWithdraw:
		return "PoolWithdraw"
	case EventTypeClaimPoolCollateral:
		return "ClaimPoolCollateral"
	case EventTypeClaimSurplus:
		return "ClaimSurplus"
	case EventTypeRiskParamUpdate:
		return "RiskParamUpdate"
	default:
		return "Unknown"
	}
}
