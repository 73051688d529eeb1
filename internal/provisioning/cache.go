package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CaseCache is a read-through redis cache for case summaries. Misses and
// redis failures fall back to the database; writers invalidate on commit.
type CaseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCaseCache constructs the cache. A non-positive ttl defaults to a minute.
func NewCaseCache(client *redis.Client, ttl time.Duration) *CaseCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CaseCache{client: client, ttl: ttl}
}

func caseCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("provisioning:case:%s", id)
}

// Get returns a cached case and whether it was present.
func (c *CaseCache) Get(ctx context.Context, id uuid.UUID) (Case, bool) {
	if c == nil || c.client == nil {
		return Case{}, false
	}
	data, err := c.client.Get(ctx, caseCacheKey(id)).Bytes()
	if err != nil {
		return Case{}, false
	}
	var cached Case
	if err := json.Unmarshal(data, &cached); err != nil {
		return Case{}, false
	}
	return cached, true
}

// Set stores a case summary with the configured TTL.
func (c *CaseCache) Set(ctx context.Context, cs Case) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, caseCacheKey(cs.ID), data, c.ttl).Err()
}

// Invalidate drops a case from the cache after a committed mutation.
func (c *CaseCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, caseCacheKey(id)).Err()
}
