package artifacts

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache keeps recently loaded artifact sets in a size-bounded LRU keyed by
// line and version. Latest always goes to the underlying repository so a new
// training run is picked up by the next forecast.
//
// Sets are immutable, so a cached set may be handed to concurrent runs.
type Cache struct {
	repo Repository
	sets *lru.Cache[string, *Set]
}

// NewCache wraps repo with an LRU of size entries.
func NewCache(repo Repository, size int) (*Cache, error) {
	sets, err := lru.New[string, *Set](size)
	if err != nil {
		return nil, err
	}
	return &Cache{repo: repo, sets: sets}, nil
}

// Latest delegates to the wrapped repository.
func (c *Cache) Latest(ctx context.Context, line string) (string, error) {
	return c.repo.Latest(ctx, line)
}

// Load returns a cached set or loads and caches it.
func (c *Cache) Load(ctx context.Context, line, version string) (*Set, error) {
	key := line + "@" + version
	if set, ok := c.sets.Get(key); ok {
		return set, nil
	}

	set, err := c.repo.Load(ctx, line, version)
	if err != nil {
		return nil, err
	}
	c.sets.Add(key, set)
	return set, nil
}

// Len returns the number of cached sets.
func (c *Cache) Len() int {
	return c.sets.Len()
}

// Purge drops every cached set.
func (c *Cache) Purge() {
	c.sets.Purge()
}
