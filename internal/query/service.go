package query

import (
	"context"
	"database/sql"
	"fmt"

	"KasaLedger/internal/fixmath"

	"github.com/google/uuid"
)

// Service provides read-only access to projection tables. Queries are
// served via gRPC-Gateway HTTP/JSON, reading from PostgreSQL projection
// tables. All responses include as_of_sequence for freshness semantics.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetPosition returns one owner's current position. The collateral
// ratio is derived at query time when a price is supplied.
func (s *Service) GetPosition(ctx context.Context, owner uuid.UUID, price uint64) (*PositionResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var p PositionResponse
	p.Owner = owner
	p.AsOfSequence = asOfSeq

	err = s.db.QueryRowContext(ctx, `
		SELECT collateral, debt
		FROM projections.positions
		WHERE owner = $1 AND closed_at IS NULL
	`, owner).Scan(&p.Collateral, &p.Debt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("position %s: not found", owner)
	}
	if err != nil {
		return nil, err
	}

	if price > 0 && p.Debt > 0 {
		ratio, err := fixmath.CollateralRatio(uint64(p.Collateral), uint64(p.Debt), price)
		if err == nil {
			p.CollateralRatio = ratio
			p.Price = price
		}
	}

	return &p, nil
}

// ListPositions returns open positions, paginated by owner.
func (s *Service) ListPositions(ctx context.Context, limit int, afterOwner *uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT owner, collateral, debt
		FROM projections.positions
		WHERE closed_at IS NULL
	`
	args := []interface{}{}
	argIdx := 1

	if afterOwner != nil {
		query += fmt.Sprintf(" AND owner > $%d", argIdx)
		args = append(args, *afterOwner)
		argIdx++
	}

	query += " ORDER BY owner"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(&p.Owner, &p.Collateral, &p.Debt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetSystemState returns protocol-wide aggregates from the projections.
func (s *Service) GetSystemState(ctx context.Context) (*SystemStateResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &SystemStateResponse{AsOfSequence: asOfSeq}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(collateral), 0), COALESCE(SUM(debt), 0)
		FROM projections.positions
		WHERE closed_at IS NULL
	`).Scan(&resp.PositionsOpen, &resp.TotalCollateral, &resp.TotalDebt)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetLiquidations returns liquidation history, optionally filtered by
// owner, with cursor-based pagination.
func (s *Service) GetLiquidations(ctx context.Context, owner *uuid.UUID, limit int, afterSequence *int64) ([]LiquidationRecord, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, owner, collateral, debt, absorbed_debt, redistributed_debt,
		       EXTRACT(EPOCH FROM timestamp)::BIGINT
		FROM projections.liquidations
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if owner != nil {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, *owner)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LiquidationRecord
	for rows.Next() {
		var r LiquidationRecord
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Sequence, &r.Owner, &r.Collateral, &r.Debt,
			&r.AbsorbedDebt, &r.RedistributedDebt, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetRedemptions returns redemption history with cursor-based pagination.
func (s *Service) GetRedemptions(ctx context.Context, redeemer *uuid.UUID, limit int, afterSequence *int64) ([]RedemptionRecord, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, redeemer, requested, redeemed, collateral_paid, visited,
		       EXTRACT(EPOCH FROM timestamp)::BIGINT
		FROM projections.redemptions
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if redeemer != nil {
		query += fmt.Sprintf(" AND redeemer = $%d", argIdx)
		args = append(args, *redeemer)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RedemptionRecord
	for rows.Next() {
		var r RedemptionRecord
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Sequence, &r.Redeemer, &r.Requested, &r.Redeemed,
			&r.CollateralPaid, &r.Visited, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetEvents returns event log rows for an owner with pagination.
func (s *Service) GetEvents(ctx context.Context, owner uuid.UUID, limit int, afterSequence *int64) ([]EventRecord, error) {
	query := `
		SELECT sequence, event_type, idempotency_key, owner, payload,
		       EXTRACT(EPOCH FROM timestamp)::BIGINT, source_sequence
		FROM event_log.events
		WHERE owner = $1
	`
	args := []interface{}{owner}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Owner,
			&e.Payload, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		records = append(records, e)
	}

	return records, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(as_of_sequence, 0) FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
