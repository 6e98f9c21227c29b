package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeforge/okxbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Opens, partial
// exits, and closes each append a journal row; the positions table mirrors
// the current lifecycle state for operational queries.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// RecordOpen inserts the position row and its open journal entry in one
// transaction.
func (s *TradeStore) RecordOpen(ctx context.Context, pos *domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: record open: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (id, symbol, side, entry_price, amount, remaining_amount,
			stop_loss, take_profit, status, entry_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open', $9)`,
		pos.ID, pos.Symbol, pos.Side, pos.EntryPrice, pos.Amount, pos.RemainingAmount,
		pos.StopLoss, pos.TakeProfit, pos.EntryTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: record open: insert position: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trades (position_id, symbol, side, event, amount, remaining,
			entry_price, occurred_at)
		VALUES ($1, $2, $3, 'open', $4, $5, $6, $7)`,
		pos.ID, pos.Symbol, pos.Side, pos.Amount, pos.RemainingAmount,
		pos.EntryPrice, pos.EntryTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: record open: insert journal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: record open: commit: %w", err)
	}
	return nil
}

// RecordPartial appends a partial-exit journal entry and syncs the remaining
// amount on the position row.
func (s *TradeStore) RecordPartial(ctx context.Context, pos *domain.Position, exitPrice, amount, pnl float64, reason string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: record partial: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trades (position_id, symbol, side, event, amount, remaining,
			entry_price, exit_price, realized_pnl, reason, occurred_at)
		VALUES ($1, $2, $3, 'partial', $4, $5, $6, $7, $8, $9, $10)`,
		pos.ID, pos.Symbol, pos.Side, amount, pos.RemainingAmount,
		pos.EntryPrice, exitPrice, pnl, reason, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: record partial: insert journal: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE positions SET remaining_amount = $2 WHERE id = $1`,
		pos.ID, pos.RemainingAmount,
	)
	if err != nil {
		return fmt.Errorf("postgres: record partial: update position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: record partial: commit: %w", err)
	}
	return nil
}

// RecordClose appends the close journal entry and marks the position closed.
func (s *TradeStore) RecordClose(ctx context.Context, pos *domain.Position, exitPrice, pnl float64, reason string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: record close: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trades (position_id, symbol, side, event, amount, remaining,
			entry_price, exit_price, realized_pnl, reason, occurred_at)
		VALUES ($1, $2, $3, 'close', $4, 0, $5, $6, $7, $8, $9)`,
		pos.ID, pos.Symbol, pos.Side, pos.RemainingAmount,
		pos.EntryPrice, exitPrice, pnl, reason, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: record close: insert journal: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE positions SET status = 'closed', remaining_amount = 0, closed_at = $2 WHERE id = $1`,
		pos.ID, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: record close: update position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: record close: commit: %w", err)
	}
	return nil
}

// UpdateStop persists a ratcheted stop level.
func (s *TradeStore) UpdateStop(ctx context.Context, positionID string, stopLoss float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET stop_loss = $2 WHERE id = $1`,
		positionID, stopLoss,
	)
	if err != nil {
		return fmt.Errorf("postgres: update stop %s: %w", positionID, err)
	}
	return nil
}

const tradeSelectCols = `id, position_id, symbol, side, event, amount, remaining,
	entry_price, exit_price, realized_pnl, reason, occurred_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(
			&r.ID, &r.PositionID, &r.Symbol, &r.Side, &r.Event,
			&r.Amount, &r.Remaining, &r.EntryPrice, &r.ExitPrice,
			&r.RealizedPnL, &r.Reason, &r.OccurredAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListClosedSince returns close journal entries at or after since, oldest
// first. The archiver uses it for periodic exports.
func (s *TradeStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE event = 'close' AND occurred_at >= $1
		ORDER BY occurred_at ASC`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed since: %w", err)
	}
	defer rows.Close()

	records, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
