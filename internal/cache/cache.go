// Package cache keeps the last known remote read results in the local store
// so lookups keep answering while the remote database is unreachable.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gymdesk/gymsync/internal/db"
	apperrors "github.com/gymdesk/gymsync/internal/errors"
	"github.com/gymdesk/gymsync/internal/logging"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Stats counts cache activity since process start.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Stores int64 `json:"stores"`
}

// Cache is a read-through cache backed by the local database.
type Cache struct {
	db  *db.DB
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	stores atomic.Int64
}

// New creates a Cache over the local store.
func New(database *db.DB) *Cache {
	return &Cache{db: database, now: time.Now}
}

// Put stores or replaces the cached value for key.
func (c *Cache) Put(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return apperrors.New(apperrors.ErrInvalid, "cache key must not be empty")
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO read_cache (cache_key, value_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET value_json = excluded.value_json,
		                                      updated_at = excluded.updated_at`,
		key, string(value), c.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "cache put failed", err)
	}
	c.stores.Add(1)
	return nil
}

// Get returns the cached value for key and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value_json FROM read_cache WHERE cache_key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, "cache get failed", err)
	}
	c.hits.Add(1)
	return json.RawMessage(value), true, nil
}

// Fetch runs fetch and caches its result. When fetch fails, the last cached
// value is served instead; the fetch error surfaces only on a cache miss.
// The second return reports whether the value came from the cache.
func (c *Cache) Fetch(ctx context.Context, key string, fetch func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	value, fetchErr := fetch(ctx)
	if fetchErr == nil {
		if err := c.Put(ctx, key, value); err != nil {
			logging.Warn("failed to refresh cache entry", logging.Fields{
				"key": key, "error": err.Error(),
			})
		}
		return value, false, nil
	}

	cached, ok, err := c.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fetchErr
	}

	logging.Debug("serving stale cache entry, fetch failed", logging.Fields{
		"key": key, "error": fetchErr.Error(),
	})
	return cached, true, nil
}

// Prune removes entries not refreshed within maxAge and returns the count.
func (c *Cache) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := c.now().UTC().Add(-maxAge).Format(timeLayout)
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM read_cache WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "cache prune failed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats returns activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Stores: c.stores.Load(),
	}
}
