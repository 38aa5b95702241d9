package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sniperlabs/sniperbot/internal/domain"
)

const portfolioSnapshotKey = "portfolio:snapshot"

// PortfolioStore implements domain.PortfolioStore as a single JSON snapshot
// key. The tracker overwrites it on every refresh; a restart reads it back to
// seed balances before live data arrives.
type PortfolioStore struct {
	rdb *redis.Client
}

// NewPortfolioStore creates a PortfolioStore backed by the given Client.
func NewPortfolioStore(c *Client) *PortfolioStore {
	return &PortfolioStore{rdb: c.Underlying()}
}

// SaveSnapshot overwrites the stored portfolio snapshot.
func (s *PortfolioStore) SaveSnapshot(ctx context.Context, p domain.Portfolio) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal portfolio: %w", err)
	}
	if err := s.rdb.Set(ctx, portfolioSnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save portfolio: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot, or domain.ErrNotFound when none
// has been written yet.
func (s *PortfolioStore) GetSnapshot(ctx context.Context) (domain.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("redis: get portfolio: %w", err)
	}

	var p domain.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Portfolio{}, fmt.Errorf("redis: unmarshal portfolio: %w", err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PortfolioStore = (*PortfolioStore)(nil)
