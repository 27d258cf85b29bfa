// Package memory implements the storage interfaces with in-process maps.
// It backs tests and scopes that have no on-disk database yet.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/codereef/reef/internal/storage"
	"github.com/codereef/reef/internal/types"
)

// LocalStore is an in-memory storage.LocalFindingStore.
type LocalStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*types.LocalFinding
	byScope map[string][]uuid.UUID
}

// NewLocalStore creates an empty in-memory local finding store.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		byID:    make(map[uuid.UUID]*types.LocalFinding),
		byScope: make(map[string][]uuid.UUID),
	}
}

func (s *LocalStore) Find(_ context.Context, id uuid.UUID) (*types.LocalFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(f), nil
}

func (s *LocalStore) LoadAll(_ context.Context, scopeID string) ([]*types.LocalFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.LocalFinding
	for _, id := range s.byScope[scopeID] {
		out = append(out, clone(s.byID[id]))
	}
	return out, nil
}

func (s *LocalStore) LoadForPath(_ context.Context, scopeID, filePath string) ([]*types.LocalFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.LocalFinding
	for _, id := range s.byScope[scopeID] {
		if f := s.byID[id]; f.FilePath == filePath {
			out = append(out, clone(f))
		}
	}
	return out, nil
}

func (s *LocalStore) Store(_ context.Context, scopeID string, finding *types.LocalFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[finding.ID]; !exists {
		s.byScope[scopeID] = append(s.byScope[scopeID], finding.ID)
	}
	f := clone(finding)
	f.ScopeID = scopeID
	s.byID[finding.ID] = f
	return nil
}

func (s *LocalStore) Remove(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	s.byScope[f.ScopeID] = without(s.byScope[f.ScopeID], id)
	return nil
}

func (s *LocalStore) RemoveForPath(_ context.Context, scopeID, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.byScope[scopeID][:0]
	for _, id := range s.byScope[scopeID] {
		if s.byID[id].FilePath == filePath {
			delete(s.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	s.byScope[scopeID] = kept
	return nil
}

func without(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func clone(f *types.LocalFinding) *types.LocalFinding {
	c := *f
	if f.Resolution != nil {
		r := *f.Resolution
		c.Resolution = &r
	}
	return &c
}

type serverKey struct {
	key   string
	taint bool
}

type serverFinding struct {
	meta     types.FindingMeta
	resolved bool
}

// ServerCache is an in-memory storage.ServerFindingStore.
type ServerCache struct {
	mu       sync.RWMutex
	findings map[serverKey]*serverFinding
}

// NewServerCache creates an empty server-finding cache.
func NewServerCache() *ServerCache {
	return &ServerCache{findings: make(map[serverKey]*serverFinding)}
}

// Put seeds the cache with a server finding. Used by the tracking sync.
func (c *ServerCache) Put(key string, taint bool, ruleKey string, resolved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findings[serverKey{key, taint}] = &serverFinding{
		meta:     types.FindingMeta{Key: key, RuleKey: ruleKey},
		resolved: resolved,
	}
}

func (c *ServerCache) Contains(_ context.Context, key string, taint bool) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.findings[serverKey{key, taint}]
	return ok, nil
}

func (c *ServerCache) UpdateResolution(_ context.Context, key string, taint bool, resolved bool) (*types.FindingMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.findings[serverKey{key, taint}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	f.resolved = resolved
	meta := f.meta
	return &meta, nil
}

// Resolved reports the cached resolved flag, for assertions in tests.
func (c *ServerCache) Resolved(key string, taint bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.findings[serverKey{key, taint}]
	return ok && f.resolved
}

// CacheProvider is a storage.ServerStoreProvider backed by per-binding
// in-memory caches.
type CacheProvider struct {
	mu     sync.Mutex
	caches map[types.Binding]*ServerCache
}

// NewCacheProvider creates an empty provider.
func NewCacheProvider() *CacheProvider {
	return &CacheProvider{caches: make(map[types.Binding]*ServerCache)}
}

// Cache returns the concrete cache for a binding, creating it on first use.
func (p *CacheProvider) Cache(binding types.Binding) *ServerCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.caches[binding]
	if !ok {
		c = NewServerCache()
		p.caches[binding] = c
	}
	return c
}

func (p *CacheProvider) Findings(binding types.Binding) storage.ServerFindingStore {
	return p.Cache(binding)
}
