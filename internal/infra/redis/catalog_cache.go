package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches test content from a backing store.
type CatalogLoader interface {
	LoadTestContent(ctx context.Context, testID string) (domain.TestContent, error)
}

// CatalogCache caches whole test content as JSON in Redis and falls back to
// a loader on cache miss. Content is stored as:
//
//	SET test:{testID}:content {json} EX ttl
//
// Catalog data is read-only for the engine's lifetime, so a stale-until-TTL
// cache is safe.
type CatalogCache struct {
	client *redis.Client
	loader CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCatalogCache(client *redis.Client, loader CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) GetTestContent(ctx context.Context, testID string) (domain.TestContent, error) {
	key := c.key(testID)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
		var content domain.TestContent
		if err := json.Unmarshal(raw, &content); err == nil {
			return content, nil
		}
		// A corrupt entry falls through to a reload.
	}

	result, err, _ := c.sf.Do(testID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
			var content domain.TestContent
			if err := json.Unmarshal(raw, &content); err == nil {
				return content, nil
			}
		}

		content, err := c.loader.LoadTestContent(ctx, testID)
		if err != nil {
			return domain.TestContent{}, err
		}

		if raw, err := json.Marshal(content); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return content, nil
	})
	if err != nil {
		return domain.TestContent{}, err
	}
	return result.(domain.TestContent), nil
}

func (c *CatalogCache) key(testID string) string {
	return "test:" + testID + ":content"
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
