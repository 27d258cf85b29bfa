// Package storage provides shared types for finding storage.
//
// The concrete implementations live in the sqlite and memory sub-packages.
// This package holds the interfaces and sentinel errors referenced by both
// the implementations and their consumers (internal/issue, cmd/reef).
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/codereef/reef/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// LocalFindingStore persists resolved local-only findings per scope.
//
// Only resolved findings are ever stored: an unresolved local finding lives in
// the tracking engine, not here. Store replaces any prior row with the same id.
// Consumers depend on this interface rather than on the concrete type so that
// alternative implementations (memory fakes, proxies) can be substituted.
type LocalFindingStore interface {
	Find(ctx context.Context, id uuid.UUID) (*types.LocalFinding, error)
	LoadAll(ctx context.Context, scopeID string) ([]*types.LocalFinding, error)
	LoadForPath(ctx context.Context, scopeID, filePath string) ([]*types.LocalFinding, error)
	Store(ctx context.Context, scopeID string, finding *types.LocalFinding) error
	Remove(ctx context.Context, id uuid.UUID) error
	RemoveForPath(ctx context.Context, scopeID, filePath string) error
}

// ServerFindingStore is the cache of findings the bound server project already
// knows about, populated by the tracking sync. The resolution flag mirrors the
// last acknowledged server-side state.
type ServerFindingStore interface {
	Contains(ctx context.Context, key string, taint bool) (bool, error)
	// UpdateResolution flips the cached resolved flag and returns the finding's
	// metadata, or ErrNotFound if the key is not cached.
	UpdateResolution(ctx context.Context, key string, taint bool, resolved bool) (*types.FindingMeta, error)
}

// ServerStoreProvider hands out the server-finding cache for a binding.
// Each (connection, project key) pair has its own cache.
type ServerStoreProvider interface {
	Findings(binding types.Binding) ServerFindingStore
}
