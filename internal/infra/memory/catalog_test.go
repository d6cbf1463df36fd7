package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"exam-attempt-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

type countingLoader struct {
	calls   atomic.Int64
	content domain.TestContent
	err     error
}

func (l *countingLoader) LoadTestContent(context.Context, string) (domain.TestContent, error) {
	l.calls.Add(1)
	if l.err != nil {
		return domain.TestContent{}, l.err
	}
	return l.content, nil
}

func TestCatalogCacheLoadsOnce(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{content: domain.TestContent{Test: domain.Test{ID: "t1", Title: "cached"}}}
	cache := NewCatalogCache(loader, time.Minute)

	for i := 0; i < 5; i++ {
		content, err := cache.GetTestContent(ctx, "t1")
		if err != nil {
			t.Fatalf("get test content: %v", err)
		}
		if content.Test.Title != "cached" {
			t.Fatalf("unexpected content: %+v", content.Test)
		}
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected a single backing load, got %d", got)
	}
}

func TestCatalogCacheExpires(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{content: domain.TestContent{Test: domain.Test{ID: "t1"}}}
	cache := NewCatalogCache(loader, 2*time.Millisecond)

	if _, err := cache.GetTestContent(ctx, "t1"); err != nil {
		t.Fatalf("get test content: %v", err)
	}
	// Jitter adds at most 10%, so 10ms is comfortably past expiry.
	time.Sleep(10 * time.Millisecond)
	if _, err := cache.GetTestContent(ctx, "t1"); err != nil {
		t.Fatalf("get test content after expiry: %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected a reload after expiry, got %d loads", got)
	}
}

func TestCatalogCacheCollapsesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	loader := &gatedLoader{gate: gate, content: domain.TestContent{Test: domain.Test{ID: "t1"}}}
	cache := NewCatalogCache(loader, time.Minute)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := cache.GetTestContent(ctx, "t1")
			return err
		})
	}
	close(gate)
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent get: %v", err)
	}
	if got := loader.calls.Load(); got > 2 {
		t.Fatalf("expected concurrent loads to collapse, got %d", got)
	}
}

type gatedLoader struct {
	gate    chan struct{}
	once    sync.Once
	calls   atomic.Int64
	content domain.TestContent
}

func (l *gatedLoader) LoadTestContent(context.Context, string) (domain.TestContent, error) {
	l.once.Do(func() { <-l.gate })
	l.calls.Add(1)
	return l.content, nil
}

func TestCatalogCacheDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{err: domain.ErrTestNotFound}
	cache := NewCatalogCache(loader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.GetTestContent(ctx, "missing"); !errors.Is(err, domain.ErrTestNotFound) {
			t.Fatalf("expected ErrTestNotFound, got %v", err)
		}
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("errors must not be cached, got %d loads", got)
	}
}

func TestStaticCatalogUnknownTest(t *testing.T) {
	catalog := NewStaticCatalog(map[string]domain.TestContent{})
	if _, err := catalog.GetTestContent(context.Background(), "nope"); !errors.Is(err, domain.ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}
}
