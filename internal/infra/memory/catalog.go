package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-attempt-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches test content from a backing store.
type CatalogLoader interface {
	LoadTestContent(ctx context.Context, testID string) (domain.TestContent, error)
}

// CatalogCache caches test content with a TTL so repeated session starts for
// the same test do not hammer the backing store.
type CatalogCache struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedContent
}

type cachedContent struct {
	content   domain.TestContent
	expiresAt time.Time
}

func NewCatalogCache(loader CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedContent),
	}
}

func (c *CatalogCache) GetTestContent(ctx context.Context, testID string) (domain.TestContent, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[testID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.content, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(testID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[testID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.content, nil
		}
		c.mu.RUnlock()

		content, err := c.loader.LoadTestContent(ctx, testID)
		if err != nil {
			return domain.TestContent{}, err
		}

		c.mu.Lock()
		c.cache[testID] = cachedContent{
			content:   content,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return content, nil
	})
	if err != nil {
		return domain.TestContent{}, err
	}
	return result.(domain.TestContent), nil
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticCatalog is a loader backed by an in-memory map (tests/demos).
type StaticCatalog struct {
	tests map[string]domain.TestContent
}

func NewStaticCatalog(tests map[string]domain.TestContent) *StaticCatalog {
	return &StaticCatalog{tests: tests}
}

func (s *StaticCatalog) LoadTestContent(_ context.Context, testID string) (domain.TestContent, error) {
	if content, ok := s.tests[testID]; ok {
		return content, nil
	}
	return domain.TestContent{}, domain.ErrTestNotFound
}

// GetTestContent lets a StaticCatalog stand in as a CatalogRepository
// directly, without the cache layer.
func (s *StaticCatalog) GetTestContent(ctx context.Context, testID string) (domain.TestContent, error) {
	return s.LoadTestContent(ctx, testID)
}
