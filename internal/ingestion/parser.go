package ingestion

import (
	"encoding/json"
	"fmt"

	"KasaLedger/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string)
// into a typed event.Event. The ingestion shell validates, parses, and
// converts raw events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "OpenPosition":
		return parseOpenPosition(raw.Data)
	case "AddCollateral":
		return parseAddCollateral(raw.Data)
	case "WithdrawCollateral":
		return parseWithdrawCollateral(raw.Data)
	case "MintDebt":
		return parseMintDebt(raw.Data)
	case "RepayDebt":
		return parseRepayDebt(raw.Data)
	case "ClosePosition":
		return parseClosePosition(raw.Data)
	case "LiquidationRequest":
		return parseLiquidationRequest(raw.Data)
	case "RedemptionRequest":
		return parseRedemptionRequest(raw.Data)
	case "PoolDeposit":
		return parsePoolDeposit(raw.Data)
	case "PoolWithdraw":
		return parsePoolWithdraw(raw.Data)
	case "ClaimPoolCollateral":
		return parseClaimPoolCollateral(raw.Data)
	case "ClaimSurplus":
		return parseClaimSurplus(raw.Data)
	case "RiskParamUpdate":
		return parseRiskParamUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type priceUpdateJSON struct {
	Price         uint64 `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	return &event.PriceUpdate{
		Price:         j.Price,
		PriceSequence: j.PriceSequence,
		TimestampUs:   j.TimestampUs,
	}, nil
}

type openPositionJSON struct {
	OpID        string `json:"op_id"`
	OwnerID     string `json:"owner_id"`
	Collateral  uint64 `json:"collateral"`
	Debt        uint64 `json:"debt"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseOpenPosition(data []byte) (*event.OpenPosition, error) {
	var j openPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenPosition: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	return &event.OpenPosition{
		OpID:        opID,
		OwnerID:     ownerID,
		Collateral:  j.Collateral,
		Debt:        j.Debt,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

// adjustmentJSON covers the four single-amount position adjustments.
type adjustmentJSON struct {
	OpID        string `json:"op_id"`
	OwnerID     string `json:"owner_id"`
	Amount      uint64 `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j *adjustmentJSON) ids() (uuid.UUID, uuid.UUID, error) {
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse op_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse owner_id: %w", err)
	}
	return opID, ownerID, nil
}

func parseAddCollateral(data []byte) (*event.AddCollateral, error) {
	var j adjustmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AddCollateral: %w", err)
	}
	opID, ownerID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.AddCollateral{
		OpID:        opID,
		OwnerID:     ownerID,
		Amount:      j.Amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func parseWithdrawCollateral(data []byte) (*event.WithdrawCollateral, error) {
	var j adjustmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawCollateral: %w", err)
	}
	opID, ownerID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.WithdrawCollateral{
		OpID:        opID,
		OwnerID:     ownerID,
		Amount:      j.Amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func parseMintDebt(data []byte) (*event.MintDebt, error) {
	var j adjustmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MintDebt: %w", err)
	}
	opID, ownerID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.MintDebt{
		OpID:        opID,
		OwnerID:     ownerID,
		Amount:      j.Amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func parseRepayDebt(data []byte) (*event.RepayDebt, error) {
	var j adjustmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RepayDebt: %w", err)
	}
	opID, ownerID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.RepayDebt{
		OpID:        opID,
		OwnerID:     ownerID,
		Amount:      j.Amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

type ownerOpJSON struct {
	OpID        string `json:"op_id"`
	OwnerID     string `json:"owner_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseClosePosition(data []byte) (*event.ClosePosition, error) {
	var j ownerOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClosePosition: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	return &event.ClosePosition{
		OpID:        opID,
		OwnerID:     ownerID,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func parseClaimSurplus(data []byte) (*event.ClaimSurplus, error) {
	var j ownerOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimSurplus: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	return &event.ClaimSurplus{
		OpID:        opID,
		OwnerID:     ownerID,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

type liquidationRequestJSON struct {
	LiquidationID string   `json:"liquidation_id"`
	Candidates    []string `json:"candidates"`
	Sequence      int64    `json:"sequence"`
	TimestampUs   int64    `json:"timestamp_us"`
}

func parseLiquidationRequest(data []byte) (*event.LiquidationRequest, error) {
	var j liquidationRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidationRequest: %w", err)
	}
	liqID, err := uuid.Parse(j.LiquidationID)
	if err != nil {
		return nil, fmt.Errorf("parse liquidation_id: %w", err)
	}
	candidates := make([]uuid.UUID, 0, len(j.Candidates))
	for i, c := range j.Candidates {
		id, err := uuid.Parse(c)
		if err != nil {
			return nil, fmt.Errorf("parse candidates[%d]: %w", i, err)
		}
		candidates = append(candidates, id)
	}
	return &event.LiquidationRequest{
		LiquidationID: liqID,
		Candidates:    candidates,
		Sequence:      j.Sequence,
		TimestampUs:   j.TimestampUs,
	}, nil
}

type redemptionRequestJSON struct {
	RedemptionID string  `json:"redemption_id"`
	RedeemerID   string  `json:"redeemer_id"`
	Amount       uint64  `json:"amount"`
	FirstHint    *string `json:"first_hint,omitempty"`
	UpperHint    *string `json:"upper_hint,omitempty"`
	LowerHint    *string `json:"lower_hint,omitempty"`
	Sequence     int64   `json:"sequence"`
	TimestampUs  int64   `json:"timestamp_us"`
}

func parseRedemptionRequest(data []byte) (*event.RedemptionRequest, error) {
	var j redemptionRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedemptionRequest: %w", err)
	}
	redemptionID, err := uuid.Parse(j.RedemptionID)
	if err != nil {
		return nil, fmt.Errorf("parse redemption_id: %w", err)
	}
	redeemerID, err := uuid.Parse(j.RedeemerID)
	if err != nil {
		return nil, fmt.Errorf("parse redeemer_id: %w", err)
	}
	firstHint, err := parseHint(j.FirstHint, "first_hint")
	if err != nil {
		return nil, err
	}
	upperHint, err := parseHint(j.UpperHint, "upper_hint")
	if err != nil {
		return nil, err
	}
	lowerHint, err := parseHint(j.LowerHint, "lower_hint")
	if err != nil {
		return nil, err
	}
	return &event.RedemptionRequest{
		RedemptionID: redemptionID,
		RedeemerID:   redeemerID,
		Amount:       j.Amount,
		FirstHint:    firstHint,
		UpperHint:    upperHint,
		LowerHint:    lowerHint,
		Sequence:     j.Sequence,
		TimestampUs:  j.TimestampUs,
	}, nil
}

func parseHint(s *string, field string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &id, nil
}

type poolOpJSON struct {
	OpID        string `json:"op_id"`
	StakerID    string `json:"staker_id"`
	Amount      uint64 `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j *poolOpJSON) ids() (uuid.UUID, uuid.UUID, error) {
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse op_id: %w", err)
	}
	stakerID, err := uuid.Parse(j.StakerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse staker_id: %w", err)
	}
	return opID, stakerID, nil
}

func parsePoolDeposit(data []byte) (*event.PoolDeposit, error) {
	var j poolOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolDeposit: %w", err)
	}
	opID, stakerID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.PoolDeposit{
		OpID:        opID,
		StakerID:    stakerID,
		Amount:      j.Amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func parsePoolWithdraw(data []byte) (*event.PoolWithdraw, error) {
	var j poolOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolWithdraw: %w", err)
	}
	opID, stakerID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.PoolWithdraw{
		OpID:        opID,
		StakerID:    stakerID,
		Amount:      j.Amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func parseClaimPoolCollateral(data []byte) (*event.ClaimPoolCollateral, error) {
	var j poolOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimPoolCollateral: %w", err)
	}
	opID, stakerID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.ClaimPoolCollateral{
		OpID:        opID,
		StakerID:    stakerID,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

type riskParamUpdateJSON struct {
	MinCollateralRatioPct uint64 `json:"min_collateral_ratio_pct"`
	RecoveryRatioPct      uint64 `json:"recovery_ratio_pct"`
	EffectiveSeq          int64  `json:"effective_seq"`
	Sequence              int64  `json:"sequence"`
	TimestampUs           int64  `json:"timestamp_us"`
}

func parseRiskParamUpdate(data []byte) (*event.RiskParamUpdate, error) {
	var j riskParamUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RiskParamUpdate: %w", err)
	}
	return &event.RiskParamUpdate{
		MinCollateralRatioPct: j.MinCollateralRatioPct,
		RecoveryRatioPct:      j.RecoveryRatioPct,
		EffectiveSeq:          j.EffectiveSeq,
		Sequence:              j.Sequence,
		TimestampUs:           j.TimestampUs,
	}, nil
}
