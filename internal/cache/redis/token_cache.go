package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sniperlabs/sniperbot/internal/domain"
)

const tokenTTL = 30 * time.Minute

// TokenCache implements domain.TokenCache using Redis hashes with JSON-
// serialized Token metadata and a secondary symbol-to-mint index.
//
// Key schema:
//
//	token:{mint}          - hash with field "data" containing JSON
//	token:symbol:{symbol} - string value of the mint address
type TokenCache struct {
	rdb *redis.Client
}

// NewTokenCache creates a TokenCache backed by the given Client.
func NewTokenCache(c *Client) *TokenCache {
	return &TokenCache{rdb: c.Underlying()}
}

func tokenKey(mint string) string      { return "token:" + mint }
func tokenSymbolKey(sym string) string { return "token:symbol:" + sym }

// Set stores a Token with a 30-minute TTL and indexes its symbol.
func (tc *TokenCache) Set(ctx context.Context, t domain.Token) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal token %s: %w", t.Mint, err)
	}

	key := tokenKey(t.Mint)

	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, tokenTTL)
	if t.Symbol != "" {
		pipe.Set(ctx, tokenSymbolKey(t.Symbol), t.Mint, tokenTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set token %s: %w", t.Mint, err)
	}
	return nil
}

// Get retrieves a Token by its mint address.
// It returns domain.ErrNotFound when the key does not exist.
func (tc *TokenCache) Get(ctx context.Context, mint string) (domain.Token, error) {
	data, err := tc.rdb.HGet(ctx, tokenKey(mint), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("redis: get token %s: %w", mint, err)
	}

	var t domain.Token
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Token{}, fmt.Errorf("redis: unmarshal token %s: %w", mint, err)
	}
	return t, nil
}

// GetBySymbol looks up a Token through the symbol index.
// It returns domain.ErrNotFound if the mapping or token does not exist.
func (tc *TokenCache) GetBySymbol(ctx context.Context, symbol string) (domain.Token, error) {
	mint, err := tc.rdb.Get(ctx, tokenSymbolKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("redis: get token by symbol %s: %w", symbol, err)
	}

	return tc.Get(ctx, mint)
}

// Invalidate removes a Token and its symbol index entry from the cache.
func (tc *TokenCache) Invalidate(ctx context.Context, mint string) error {
	// Read the token first so the symbol index entry can be cleaned up too.
	t, err := tc.Get(ctx, mint)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate token %s: %w", mint, err)
	}

	pipe := tc.rdb.TxPipeline()
	pipe.Del(ctx, tokenKey(mint))
	if err == nil && t.Symbol != "" {
		pipe.Del(ctx, tokenSymbolKey(t.Symbol))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate token %s: %w", mint, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenCache = (*TokenCache)(nil)
