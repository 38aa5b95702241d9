package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// ClosedPositionStore implements domain.ClosedPositionStore using PostgreSQL.
type ClosedPositionStore struct {
	pool *pgxpool.Pool
}

// NewClosedPositionStore creates a ClosedPositionStore backed by the given pool.
func NewClosedPositionStore(pool *pgxpool.Pool) *ClosedPositionStore {
	return &ClosedPositionStore{pool: pool}
}

var _ domain.ClosedPositionStore = (*ClosedPositionStore)(nil)

const closedPositionCols = `position_id, strategy_name, symbol, token_mint,
	entry_price, exit_price, amount_tokens, amount_sol_invested,
	realized_pnl, realized_pnl_percent, reason, status,
	max_profit_percent, max_drawdown_percent, opened_at, closed_at,
	exit_tx_signature`

func scanClosedPosition(row pgx.Row) (domain.ClosedPositionRecord, error) {
	var rec domain.ClosedPositionRecord
	var reason, status string

	err := row.Scan(
		&rec.PositionID, &rec.StrategyName, &rec.Symbol, &rec.TokenMint,
		&rec.EntryPrice, &rec.ExitPrice, &rec.AmountTokens, &rec.AmountSOLInvested,
		&rec.RealizedPnL, &rec.RealizedPnLPercent, &reason, &status,
		&rec.MaxProfitPercent, &rec.MaxDrawdownPercent, &rec.OpenedAt, &rec.ClosedAt,
		&rec.ExitTxSignature,
	)
	if err != nil {
		return domain.ClosedPositionRecord{}, err
	}
	rec.Reason = domain.CloseReason(reason)
	rec.Status = domain.PositionStatus(status)
	return rec, nil
}

func scanClosedPositions(rows pgx.Rows) ([]domain.ClosedPositionRecord, error) {
	var records []domain.ClosedPositionRecord
	for rows.Next() {
		rec, err := scanClosedPosition(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Append inserts a terminal position record. The history is append-only;
// a duplicate position_id means the caller closed the same position twice
// and is reported as an error.
func (s *ClosedPositionStore) Append(ctx context.Context, rec domain.ClosedPositionRecord) error {
	const query = `
		INSERT INTO closed_positions (
			position_id, strategy_name, symbol, token_mint,
			entry_price, exit_price, amount_tokens, amount_sol_invested,
			realized_pnl, realized_pnl_percent, reason, status,
			max_profit_percent, max_drawdown_percent, opened_at, closed_at,
			exit_tx_signature
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.PositionID, rec.StrategyName, rec.Symbol, rec.TokenMint,
		rec.EntryPrice, rec.ExitPrice, rec.AmountTokens, rec.AmountSOLInvested,
		rec.RealizedPnL, rec.RealizedPnLPercent, string(rec.Reason), string(rec.Status),
		rec.MaxProfitPercent, rec.MaxDrawdownPercent, rec.OpenedAt, rec.ClosedAt,
		rec.ExitTxSignature,
	)
	if err != nil {
		return fmt.Errorf("postgres: append closed position %s: %w", rec.PositionID, err)
	}
	return nil
}

// List returns closed positions newest first with pagination and optional
// time filtering on the close timestamp.
func (s *ClosedPositionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedPositionRecord, error) {
	return s.list(ctx, "", opts)
}

// ListByStrategy returns closed positions for one strategy, newest first.
func (s *ClosedPositionStore) ListByStrategy(ctx context.Context, strategy string, opts domain.ListOpts) ([]domain.ClosedPositionRecord, error) {
	return s.list(ctx, strategy, opts)
}

func (s *ClosedPositionStore) list(ctx context.Context, strategy string, opts domain.ListOpts) ([]domain.ClosedPositionRecord, error) {
	query := `SELECT ` + closedPositionCols + ` FROM closed_positions WHERE 1=1`
	var args []any
	argIdx := 1

	if strategy != "" {
		query += fmt.Sprintf(" AND strategy_name = $%d", argIdx)
		args = append(args, strategy)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	records, err := scanClosedPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return records, nil
}

// ListBefore returns records closed strictly before the cutoff, oldest
// first, bounded by limit. Archival drains history in stable batches this
// way before deleting.
func (s *ClosedPositionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ClosedPositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+closedPositionCols+` FROM closed_positions
		 WHERE closed_at < $1
		 ORDER BY closed_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	records, err := scanClosedPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions before cutoff: %w", err)
	}
	return records, nil
}

// DeleteBefore removes records closed strictly before the cutoff and
// reports how many rows went.
func (s *ClosedPositionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM closed_positions WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// SumRealizedPnL totals realized PnL for positions closed at or after
// since. Used to rebuild the daily PnL counter on restart.
func (s *ClosedPositionStore) SumRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM closed_positions WHERE closed_at >= $1`, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum realized pnl: %w", err)
	}
	return total, nil
}
