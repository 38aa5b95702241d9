package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// RiskEventStore implements domain.RiskEventStore using PostgreSQL. Every
// veto, emergency stop, and forced close lands here so a bad trading day
// can be reconstructed afterwards.
type RiskEventStore struct {
	pool *pgxpool.Pool
}

// NewRiskEventStore creates a RiskEventStore backed by the given pool.
func NewRiskEventStore(pool *pgxpool.Pool) *RiskEventStore {
	return &RiskEventStore{pool: pool}
}

var _ domain.RiskEventStore = (*RiskEventStore)(nil)

// Log records a risk event with its structured detail as JSONB.
func (s *RiskEventStore) Log(ctx context.Context, event string, detail map[string]any) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal risk event detail: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_events (event, detail, created_at) VALUES ($1, $2, NOW())`,
		event, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: log risk event %s: %w", event, err)
	}
	return nil
}

// List returns risk events newest first with pagination and optional time
// filtering on the event timestamp.
func (s *RiskEventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.RiskEvent, error) {
	query := `SELECT id, event, detail, created_at FROM risk_events WHERE 1=1`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list risk events: %w", err)
	}
	defer rows.Close()

	var events []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var detailJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Event, &detailJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan risk event: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal risk event detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate risk events: %w", err)
	}
	return events, nil
}
