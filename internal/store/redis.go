package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pasarprediksi/market-core/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for single markets. Writes go to the primary store and invalidate
// the cache; every other call passes straight through.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.Store.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, id string, upd model.MarketUpdate) (*model.Market, error) {
	m, err := s.Store.UpdateMarket(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	// Invalidate; next read re-populates.
	s.invalidate(ctx, id)
	return m, nil
}

func (s *CachedStore) DeleteMarket(ctx context.Context, id string) error {
	if err := s.Store.DeleteMarket(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

// WithTx keeps invalidation active for writes made inside the unit of work.
func (s *CachedStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		return fn(&CachedStore{Store: tx, rdb: s.rdb, ttl: s.ttl})
	})
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		slog.Warn("market cache invalidation failed", "market", id, "err", err)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
