package domain

import (
	"context"
	"time"
)

// ListOpts bounds paged queries. Since and Until filter on the record's
// close time when set.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists live positions write-through. The in-memory open set
// remains authoritative while the process runs; the store exists so a restart
// can rebuild it.
type PositionStore interface {
	// Save upserts the position under its storage key.
	Save(ctx context.Context, pos *ActivePosition) error
	// Get returns ErrNotFound when no position exists under the id.
	Get(ctx context.Context, id string) (*ActivePosition, error)
	// Delete removes the position; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// ListOpen returns every persisted position.
	ListOpen(ctx context.Context) ([]*ActivePosition, error)
}

// ClosedPositionStore is the append-only log of terminal positions.
type ClosedPositionStore interface {
	Append(ctx context.Context, rec ClosedPositionRecord) error
	List(ctx context.Context, opts ListOpts) ([]ClosedPositionRecord, error)
	ListByStrategy(ctx context.Context, strategy string, opts ListOpts) ([]ClosedPositionRecord, error)
	// ListBefore returns records closed strictly before the cutoff, oldest
	// first, for archival batching.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ClosedPositionRecord, error)
	// DeleteBefore removes archived records and reports how many went.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// SumRealizedPnL totals realized PnL for closes at or after since.
	SumRealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// RiskEventStore records the risk layer's audit trail.
type RiskEventStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]RiskEvent, error)
}

// PortfolioStore keeps the latest portfolio snapshot for restart recovery
// and external readers.
type PortfolioStore interface {
	SaveSnapshot(ctx context.Context, p Portfolio) error
	// GetSnapshot returns ErrNotFound when no snapshot has been written.
	GetSnapshot(ctx context.Context) (Portfolio, error)
}
