package artifacts

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository holds artifact sets in memory. It is safe for concurrent use.
type MemoryRepository struct {
	mu   sync.RWMutex
	sets map[string]map[string]*Set
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sets: make(map[string]map[string]*Set)}
}

// Add registers a complete set under its Line and Version.
func (r *MemoryRepository) Add(set *Set) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sets[set.Line] == nil {
		r.sets[set.Line] = make(map[string]*Set)
	}
	r.sets[set.Line][set.Version] = set
}

// Latest returns the lexicographically greatest version of line.
func (r *MemoryRepository) Latest(ctx context.Context, line string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.sets[line]))
	for v := range r.sets[line] {
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return "", &ArtifactNotFoundError{Line: line, Kind: KindModel}
	}
	sort.Strings(versions)
	return versions[len(versions)-1], nil
}

// Load returns the registered set.
func (r *MemoryRepository) Load(ctx context.Context, line, version string) (*Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[line][version]
	if !ok {
		return nil, &ArtifactNotFoundError{Line: line, Kind: KindModel, Version: version}
	}
	return set, nil
}
