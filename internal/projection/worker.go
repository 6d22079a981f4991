package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"KasaLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data projection workers need.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Owner     *string
	Timestamp time.Time

	Positions    []PositionChange
	Liquidations []LiquidationEntry
	Redemption   *RedemptionEntry
}

// PositionChange is one position's state after the event.
type PositionChange struct {
	Owner      string
	ChangeType string // opened, adjusted, closed, liquidated, redeemed
	Collateral int64
	Debt       int64
}

// LiquidationEntry is one liquidated position within a batch.
type LiquidationEntry struct {
	Owner             string
	Collateral        int64
	Debt              int64
	AbsorbedDebt      int64
	RedistributedDebt int64
}

// RedemptionEntry summarizes a settled redemption request.
type RedemptionEntry struct {
	Redeemer       string
	Requested      int64
	Redeemed       int64
	CollateralPaid int64
	Visited        int
}

// Worker updates projection tables from processed events. The
// projection channel is non-blocking with drop; if projections fall
// behind, they are rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.processOutput(ctx, output); err != nil {
				w.logger.Warn().
					Int64("sequence", output.Sequence).
					Err(err).
					Msg("projection update failed")
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}
		}
	}
}

func (w *Worker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range output.Positions {
		if err := w.updatePosition(ctx, tx, output, p); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	for _, l := range output.Liquidations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidations
				(sequence, owner, collateral, debt, absorbed_debt, redistributed_debt, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (sequence, owner) DO NOTHING
		`, output.Sequence, l.Owner, l.Collateral, l.Debt,
			l.AbsorbedDebt, l.RedistributedDebt, output.Timestamp); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
	}

	if r := output.Redemption; r != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.redemptions
				(sequence, redeemer, requested, redeemed, collateral_paid, visited, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (sequence) DO NOTHING
		`, output.Sequence, r.Redeemer, r.Requested, r.Redeemed,
			r.CollateralPaid, r.Visited, output.Timestamp); err != nil {
			return fmt.Errorf("redemption projection: %w", err)
		}
	}

	// Advance the freshness watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (id, as_of_sequence, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET as_of_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.QueryDuration.WithLabelValues("projection_update").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) updatePosition(ctx context.Context, tx *sql.Tx, output ProjectionOutput, p PositionChange) error {
	switch p.ChangeType {
	case "closed", "liquidated", "redeemed":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET collateral = 0, debt = 0, last_sequence = $2, updated_at = $3, closed_at = $3
			WHERE owner = $1 AND last_sequence < $2
		`, p.Owner, output.Sequence, output.Timestamp)
		return err

	default:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(owner, collateral, debt, last_sequence, updated_at, closed_at)
			VALUES ($1, $2, $3, $4, $5, NULL)
			ON CONFLICT (owner) DO UPDATE
				SET collateral = $2, debt = $3, last_sequence = $4, updated_at = $5, closed_at = NULL
				WHERE projections.positions.last_sequence < $4
		`, p.Owner, p.Collateral, p.Debt, output.Sequence, output.Timestamp)
		return err
	}
}

// Rebuild rebuilds all projection tables from the event log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.liquidations`,
		`TRUNCATE projections.redemptions`,
		`DELETE FROM projections.watermark`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Latest change per owner decides the current position state.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.positions (owner, collateral, debt, last_sequence, updated_at, closed_at)
		SELECT DISTINCT ON (owner)
			owner,
			CASE WHEN change_type IN ('closed', 'liquidated', 'redeemed') THEN 0 ELSE collateral END,
			CASE WHEN change_type IN ('closed', 'liquidated', 'redeemed') THEN 0 ELSE debt END,
			sequence,
			timestamp,
			CASE WHEN change_type IN ('closed', 'liquidated', 'redeemed') THEN timestamp ELSE NULL END
		FROM event_log.position_changes
		ORDER BY owner, sequence DESC
	`)
	if err != nil {
		return fmt.Errorf("rebuild positions: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.watermark (id, as_of_sequence, updated_at)
		SELECT 1, COALESCE(MAX(sequence), 0), NOW() FROM event_log.events
	`)
	if err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	return nil
}
