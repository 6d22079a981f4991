package event

import "fmt"

// PriceUpdate carries a new collateral price from the upstream oracle
// relay. The core never fetches prices itself.
type PriceUpdate struct {
	Price         uint64 `json:"price"` // Scalar scale
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%d", p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) Owner() *string {
	return nil // Global event
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
