package ingestion

import (
	"context"
	"fmt"
	"time"

	"KasaLedger/internal/event"

	"github.com/google/uuid"
)

// AdminInjectService provides manual event injection for operators.
// Admin injection is for corrections and testing, not for
// high-throughput ingestion (use NATS for that).
type AdminInjectService struct {
	eventChan chan<- event.Event
}

func NewAdminInjectService(eventChan chan<- event.Event) *AdminInjectService {
	return &AdminInjectService{eventChan: eventChan}
}

// InjectPrice manually injects a PriceUpdate event.
func (s *AdminInjectService) InjectPrice(
	ctx context.Context,
	price uint64,
	priceSequence int64,
) error {
	if price == 0 {
		return fmt.Errorf("price must be positive")
	}

	evt := &event.PriceUpdate{
		Price:         price,
		PriceSequence: priceSequence,
		TimestampUs:   time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectLiquidation manually injects a LiquidationRequest event.
func (s *AdminInjectService) InjectLiquidation(
	ctx context.Context,
	candidates []uuid.UUID,
) error {
	if len(candidates) == 0 {
		return fmt.Errorf("candidates must not be empty")
	}

	now := time.Now()
	evt := &event.LiquidationRequest{
		LiquidationID: uuid.New(),
		Candidates:    candidates,
		Sequence:      now.UnixMicro(), // Admin-injected: use timestamp as sequence
		TimestampUs:   now.UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectRedemption manually injects a RedemptionRequest event without hints.
func (s *AdminInjectService) InjectRedemption(
	ctx context.Context,
	redeemer uuid.UUID,
	amount uint64,
) error {
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}

	now := time.Now()
	evt := &event.RedemptionRequest{
		RedemptionID: uuid.New(),
		RedeemerID:   redeemer,
		Amount:       amount,
		Sequence:     now.UnixMicro(),
		TimestampUs:  now.UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectRiskParams manually injects a RiskParamUpdate event.
func (s *AdminInjectService) InjectRiskParams(
	ctx context.Context,
	minRatioPct uint64,
	recoveryRatioPct uint64,
) error {
	if minRatioPct == 0 || recoveryRatioPct < minRatioPct {
		return fmt.Errorf("invalid thresholds: min=%d recovery=%d", minRatioPct, recoveryRatioPct)
	}

	now := time.Now()
	evt := &event.RiskParamUpdate{
		MinCollateralRatioPct: minRatioPct,
		RecoveryRatioPct:      recoveryRatioPct,
		EffectiveSeq:          0,
		Sequence:              now.UnixMicro(),
		TimestampUs:           now.UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
