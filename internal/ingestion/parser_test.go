package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"KasaLedger/internal/event"
	"KasaLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"price":          uint64(2_000_000_000),
		"price_sequence": int64(100),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := evt.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", evt)
	}

	if pu.Price != 2_000_000_000 {
		t.Errorf("price: got %d, want 2_000_000_000", pu.Price)
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
	if pu.EventType() != event.EventTypePriceUpdate {
		t.Errorf("event type: got %v, want PriceUpdate", pu.EventType())
	}
}

func TestParseOpenPosition(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":        "550e8400-e29b-41d4-a716-446655440000",
		"owner_id":     "660e8400-e29b-41d4-a716-446655440001",
		"collateral":   uint64(10_000_000),
		"debt":         uint64(5_000_000),
		"sequence":     int64(42),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OpenPosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	op, ok := evt.(*event.OpenPosition)
	if !ok {
		t.Fatalf("expected *event.OpenPosition, got %T", evt)
	}

	if op.Collateral != 10_000_000 {
		t.Errorf("collateral: got %d, want 10_000_000", op.Collateral)
	}
	if op.Debt != 5_000_000 {
		t.Errorf("debt: got %d, want 5_000_000", op.Debt)
	}
	if op.SourceSequence() != 42 {
		t.Errorf("sequence: got %d, want 42", op.SourceSequence())
	}
	if op.Owner() == nil || *op.Owner() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("owner: got %v", op.Owner())
	}
}

func TestParseAddCollateral(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":        "550e8400-e29b-41d4-a716-446655440000",
		"owner_id":     "660e8400-e29b-41d4-a716-446655440001",
		"amount":       uint64(2_500_000),
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "AddCollateral")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ac, ok := evt.(*event.AddCollateral)
	if !ok {
		t.Fatalf("expected *event.AddCollateral, got %T", evt)
	}

	if ac.Amount != 2_500_000 {
		t.Errorf("amount: got %d, want 2_500_000", ac.Amount)
	}
	if ac.EventType() != event.EventTypeAddCollateral {
		t.Errorf("event type: got %v, want AddCollateral", ac.EventType())
	}
}

func TestParseLiquidationRequest(t *testing.T) {
	payload := map[string]interface{}{
		"liquidation_id": "550e8400-e29b-41d4-a716-446655440000",
		"candidates": []string{
			"660e8400-e29b-41d4-a716-446655440001",
			"770e8400-e29b-41d4-a716-446655440002",
		},
		"sequence":     int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "LiquidationRequest")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lr, ok := evt.(*event.LiquidationRequest)
	if !ok {
		t.Fatalf("expected *event.LiquidationRequest, got %T", evt)
	}

	if len(lr.Candidates) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(lr.Candidates))
	}
	if lr.Candidates[0].String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("candidates[0]: got %s", lr.Candidates[0])
	}
	if lr.Owner() != nil {
		t.Errorf("owner: got %v, want nil for global event", lr.Owner())
	}
}

func TestParseRedemptionRequest_WithHints(t *testing.T) {
	payload := map[string]interface{}{
		"redemption_id": "550e8400-e29b-41d4-a716-446655440000",
		"redeemer_id":   "660e8400-e29b-41d4-a716-446655440001",
		"amount":        uint64(3_000_000),
		"first_hint":    "770e8400-e29b-41d4-a716-446655440002",
		"upper_hint":    "880e8400-e29b-41d4-a716-446655440003",
		"sequence":      int64(11),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RedemptionRequest")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rr, ok := evt.(*event.RedemptionRequest)
	if !ok {
		t.Fatalf("expected *event.RedemptionRequest, got %T", evt)
	}

	if rr.Amount != 3_000_000 {
		t.Errorf("amount: got %d, want 3_000_000", rr.Amount)
	}
	if rr.FirstHint == nil || rr.FirstHint.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("first_hint: got %v", rr.FirstHint)
	}
	if rr.UpperHint == nil {
		t.Error("upper_hint: got nil")
	}
	if rr.LowerHint != nil {
		t.Errorf("lower_hint: got %v, want nil when absent", rr.LowerHint)
	}
}

func TestParseRedemptionRequest_NoHints(t *testing.T) {
	payload := map[string]interface{}{
		"redemption_id": "550e8400-e29b-41d4-a716-446655440000",
		"redeemer_id":   "660e8400-e29b-41d4-a716-446655440001",
		"amount":        uint64(1_000_000),
		"sequence":      int64(12),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RedemptionRequest")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rr := evt.(*event.RedemptionRequest)
	if rr.FirstHint != nil || rr.UpperHint != nil || rr.LowerHint != nil {
		t.Error("hints: expected all nil when absent")
	}
}

func TestParsePoolDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":        "550e8400-e29b-41d4-a716-446655440000",
		"staker_id":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":       uint64(4_000_000),
		"sequence":     int64(3),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PoolDeposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pd, ok := evt.(*event.PoolDeposit)
	if !ok {
		t.Fatalf("expected *event.PoolDeposit, got %T", evt)
	}

	if pd.Amount != 4_000_000 {
		t.Errorf("amount: got %d, want 4_000_000", pd.Amount)
	}
	if pd.EventType() != event.EventTypePoolDeposit {
		t.Errorf("event type: got %v, want PoolDeposit", pd.EventType())
	}
}

func TestParseRiskParamUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"min_collateral_ratio_pct": uint64(115),
		"recovery_ratio_pct":       uint64(160),
		"effective_seq":            int64(99),
		"sequence":                 int64(1),
		"timestamp_us":             int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RiskParamUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rp, ok := evt.(*event.RiskParamUpdate)
	if !ok {
		t.Fatalf("expected *event.RiskParamUpdate, got %T", evt)
	}

	if rp.MinCollateralRatioPct != 115 {
		t.Errorf("min_collateral_ratio_pct: got %d, want 115", rp.MinCollateralRatioPct)
	}
	if rp.RecoveryRatioPct != 160 {
		t.Errorf("recovery_ratio_pct: got %d, want 160", rp.RecoveryRatioPct)
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "OpenPosition")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":        "not-a-uuid",
		"owner_id":     "also-not-a-uuid",
		"collateral":   uint64(1),
		"debt":         uint64(1),
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "OpenPosition")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseInvalidHint_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"redemption_id": "550e8400-e29b-41d4-a716-446655440000",
		"redeemer_id":   "660e8400-e29b-41d4-a716-446655440001",
		"amount":        uint64(1),
		"first_hint":    "garbage",
		"sequence":      int64(0),
		"timestamp_us":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "RedemptionRequest")
	if err == nil {
		t.Fatal("expected error for invalid hint UUID")
	}
}
