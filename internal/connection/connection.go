// Package connection tracks configured server connections and derives their
// resolution capabilities.
//
// A connection is either a self-hosted server (versioned, supports anticipated
// transitions from 10.2) or the multi-tenant cloud product (independent
// version numbering, never supports anticipated transitions). Capability
// questions are answered from the cached server version; only the vocabulary
// check is allowed to fetch the version over the wire, and a failed fetch
// degrades to "requirement unmet" instead of failing the caller.
package connection

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/serverapi"
	"github.com/codereef/reef/internal/types"
	"github.com/codereef/reef/internal/version"
)

// Minimum self-hosted versions for the two capability thresholds. 10.2
// introduced anticipated transitions; 10.4 replaced "Won't Fix" with "Accept".
var (
	MinAnticipatedTransitionsVersion = version.MustParse("10.2")
	MinAcceptedResolutionVersion     = version.MustParse("10.4")
)

// Kind distinguishes the server products.
type Kind int

const (
	KindSelfHosted Kind = iota
	KindCloud
)

// Gateway is the remote issue surface a connection exposes. *serverapi.Client
// satisfies it; tests substitute fakes.
type Gateway interface {
	SearchByKey(ctx context.Context, key string) (*serverapi.FindingTransitions, error)
	ChangeStatus(ctx context.Context, key string, transition types.Transition) error
	AddComment(ctx context.Context, key, text string) error
	PushAnticipatedTransitions(ctx context.Context, projectKey string, findings []*types.LocalFinding) error
	ServerVersion(ctx context.Context) (string, error)
}

// Connection is a live, usable server connection with its cached server info.
type Connection struct {
	ID   string
	Kind Kind
	API  Gateway

	mu      sync.RWMutex
	version *version.Version // nil until synced
	sf      singleflight.Group
}

// New creates a connection. The version cache starts empty; SetVersion seeds
// it from previously synchronized storage.
func New(id string, kind Kind, api Gateway) *Connection {
	return &Connection{ID: id, Kind: kind, API: api}
}

// SetVersion seeds the cached server version, typically from the last sync.
func (c *Connection) SetVersion(v version.Version) {
	c.mu.Lock()
	c.version = &v
	c.mu.Unlock()
}

// CachedVersion returns the cached server version, if any.
func (c *Connection) CachedVersion() (version.Version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.version == nil {
		return version.Version{}, false
	}
	return *c.version, true
}

// SupportsAnticipatedTransitions reports whether the server accepts
// pre-emptive resolutions for findings it has not seen. Purely cache-driven:
// cloud connections never qualify, and an unknown self-hosted version counts
// as unsupported rather than triggering a network round trip.
func (c *Connection) SupportsAnticipatedTransitions() bool {
	if c.Kind == KindCloud {
		return false
	}
	v, ok := c.CachedVersion()
	return ok && v.AtLeast(MinAnticipatedTransitionsVersion)
}

// Vocabulary returns the resolution statuses this self-hosted connection
// exposes: the current pair from 10.4, the legacy pair below. The version may
// be fetched and cached here if not yet known; a failed fetch selects the
// legacy pair. Never call this for cloud connections, whose vocabulary comes
// from the finding's own reported transitions.
func (c *Connection) Vocabulary(ctx context.Context) []types.ResolutionStatus {
	v, ok := c.readOrSyncVersion(ctx)
	if ok && v.AtLeast(MinAcceptedResolutionVersion) {
		return types.CurrentVocabulary
	}
	return types.LegacyVocabulary
}

// readOrSyncVersion returns the cached version, fetching and caching it once
// if unknown. Concurrent callers share a single fetch.
func (c *Connection) readOrSyncVersion(ctx context.Context) (version.Version, bool) {
	if v, ok := c.CachedVersion(); ok {
		return v, true
	}
	got, err, _ := c.sf.Do("version", func() (any, error) {
		raw, err := c.API.ServerVersion(ctx)
		if err != nil {
			return version.Version{}, err
		}
		v, err := version.Parse(raw)
		if err != nil {
			return version.Version{}, err
		}
		c.SetVersion(v)
		return v, nil
	})
	if err != nil {
		debug.Logf("connection %s: version sync failed: %v\n", c.ID, err)
		return version.Version{}, false
	}
	return got.(version.Version), true
}

// Registry is the set of live connections, keyed by id. Connections may be
// added and removed concurrently with lookups (a binding can outlive its
// connection).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers a connection, replacing any previous one with the same id.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Remove drops a connection.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Live returns the connection with the given id, if it still exists.
func (r *Registry) Live(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}
