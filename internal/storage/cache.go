package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// BoardLoader loads a pipeline's configuration.
type BoardLoader interface {
	LoadBoard(ctx context.Context, pipelineID string) (*models.Board, error)
}

// CachedBoards keeps recently loaded boards in an expiring LRU so that bulk
// reanalysis does not reload the same configuration for every card.
// Entries older than the TTL are reloaded.
type CachedBoards struct {
	loader BoardLoader
	cache  *expirable.LRU[string, *models.Board]

	mu     sync.Mutex
	hits   int
	misses int
}

// NewCachedBoards wraps loader. A non-positive size disables caching and a
// non-positive ttl keeps entries until they are evicted or invalidated.
func NewCachedBoards(loader BoardLoader, size int, ttl time.Duration) *CachedBoards {
	c := &CachedBoards{loader: loader}
	if size > 0 {
		c.cache = expirable.NewLRU[string, *models.Board](size, nil, ttl)
	}
	return c
}

// LoadBoard returns the cached board or loads it.
func (c *CachedBoards) LoadBoard(ctx context.Context, pipelineID string) (*models.Board, error) {
	if c.cache == nil {
		return c.loader.LoadBoard(ctx, pipelineID)
	}
	if b, ok := c.cache.Get(pipelineID); ok {
		c.count(true)
		return b, nil
	}
	c.count(false)

	b, err := c.loader.LoadBoard(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(pipelineID, b)
	return b, nil
}

// Invalidate drops a pipeline after its configuration changed.
func (c *CachedBoards) Invalidate(pipelineID string) {
	if c.cache != nil {
		c.cache.Remove(pipelineID)
	}
}

// Stats returns cache hits and misses since creation.
func (c *CachedBoards) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CachedBoards) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}
