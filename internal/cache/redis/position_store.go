package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sniperlabs/sniperbot/internal/domain"
)

// PositionStore implements domain.PositionStore on plain Redis keys. Every
// live position is written through on mutation so a restart can rebuild the
// in-memory open set.
//
// Key schema:
//
//	active_position:{id} - JSON-serialized ActivePosition, no TTL
//
// Positions carry no expiry: an open position must outlive any cache horizon,
// and closes delete the key explicitly.
type PositionStore struct {
	rdb *redis.Client
}

// NewPositionStore creates a PositionStore backed by the given Client.
func NewPositionStore(c *Client) *PositionStore {
	return &PositionStore{rdb: c.Underlying()}
}

// Save upserts the position under its storage key.
func (ps *PositionStore) Save(ctx context.Context, pos *domain.ActivePosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: marshal position %s: %w", pos.ID, err)
	}
	if err := ps.rdb.Set(ctx, pos.StorageKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save position %s: %w", pos.ID, err)
	}
	return nil
}

// Get retrieves a position by id. It returns domain.ErrNotFound when no key
// exists.
func (ps *PositionStore) Get(ctx context.Context, id string) (*domain.ActivePosition, error) {
	data, err := ps.rdb.Get(ctx, domain.PositionStorageKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get position %s: %w", id, err)
	}

	var pos domain.ActivePosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("redis: unmarshal position %s: %w", id, err)
	}
	return &pos, nil
}

// Delete removes a position key. Deleting an absent id is not an error.
func (ps *PositionStore) Delete(ctx context.Context, id string) error {
	if err := ps.rdb.Del(ctx, domain.PositionStorageKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: delete position %s: %w", id, err)
	}
	return nil
}

// ListOpen scans all persisted positions. Entries that fail to decode are
// skipped rather than failing the whole restore.
func (ps *PositionStore) ListOpen(ctx context.Context) ([]*domain.ActivePosition, error) {
	var (
		cursor    uint64
		positions []*domain.ActivePosition
	)

	for {
		keys, next, err := ps.rdb.Scan(ctx, cursor, domain.PositionStorageKey("*"), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan positions: %w", err)
		}

		if len(keys) > 0 {
			vals, err := ps.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("redis: mget positions: %w", err)
			}
			for _, v := range vals {
				s, ok := v.(string)
				if !ok {
					continue
				}
				var pos domain.ActivePosition
				if err := json.Unmarshal([]byte(s), &pos); err != nil {
					continue
				}
				positions = append(positions, &pos)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
