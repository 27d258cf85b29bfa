// Package sqlite implements the storage interfaces using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/codereef/reef/internal/storage"
	"github.com/codereef/reef/internal/types"
)

// setupWASMCache configures WASM compilation caching so SQLite does not pay
// the JIT compile cost on every process start. Falls back to an in-memory
// cache when the user cache dir is unavailable.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		if c, err := wazero.NewCompilationCacheWithDir(filepath.Join(userCache, "reef", "wasm")); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

const schema = `
CREATE TABLE IF NOT EXISTS local_findings (
	id        TEXT PRIMARY KEY,
	scope_id  TEXT NOT NULL,
	rule_key  TEXT NOT NULL,
	file_path TEXT NOT NULL,
	status    TEXT NOT NULL,
	comment   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_local_findings_scope ON local_findings(scope_id);
CREATE INDEX IF NOT EXISTS idx_local_findings_path ON local_findings(scope_id, file_path);

CREATE TABLE IF NOT EXISTS server_findings (
	connection_id TEXT NOT NULL,
	project_key   TEXT NOT NULL,
	finding_key   TEXT NOT NULL,
	taint         INTEGER NOT NULL,
	rule_key      TEXT NOT NULL,
	resolved      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (connection_id, project_key, finding_key, taint)
);
`

// Store is the SQLite-backed implementation of storage.LocalFindingStore and
// storage.ServerStoreProvider. A single database file holds both the local
// staging rows and the per-binding server-finding cache.
type Store struct {
	db *sql.DB
}

// Open creates or opens the reef database at path. Use ":memory:" for an
// ephemeral store.
func Open(ctx context.Context, path string) (*Store, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Find(ctx context.Context, id uuid.UUID) (*types.LocalFinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope_id, rule_key, file_path, status, comment FROM local_findings WHERE id = ?`,
		id.String())
	return scanFinding(row)
}

func (s *Store) LoadAll(ctx context.Context, scopeID string) ([]*types.LocalFinding, error) {
	return s.query(ctx,
		`SELECT id, scope_id, rule_key, file_path, status, comment FROM local_findings WHERE scope_id = ? ORDER BY id`,
		scopeID)
}

func (s *Store) LoadForPath(ctx context.Context, scopeID, filePath string) ([]*types.LocalFinding, error) {
	return s.query(ctx,
		`SELECT id, scope_id, rule_key, file_path, status, comment FROM local_findings WHERE scope_id = ? AND file_path = ? ORDER BY id`,
		scopeID, filePath)
}

func (s *Store) Store(ctx context.Context, scopeID string, finding *types.LocalFinding) error {
	if finding.Resolution == nil {
		return fmt.Errorf("storing unresolved finding %s", finding.ID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_findings (id, scope_id, rule_key, file_path, status, comment)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   scope_id = excluded.scope_id,
		   rule_key = excluded.rule_key,
		   file_path = excluded.file_path,
		   status = excluded.status,
		   comment = excluded.comment`,
		finding.ID.String(), scopeID, finding.RuleKey, finding.FilePath,
		string(finding.Resolution.Status), finding.Resolution.Comment)
	if err != nil {
		return fmt.Errorf("storing finding %s: %w", finding.ID, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM local_findings WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("removing finding %s: %w", id, err)
	}
	return nil
}

func (s *Store) RemoveForPath(ctx context.Context, scopeID, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM local_findings WHERE scope_id = ? AND file_path = ?`, scopeID, filePath)
	if err != nil {
		return fmt.Errorf("removing findings for %s: %w", filePath, err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*types.LocalFinding, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*types.LocalFinding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFinding(row scanner) (*types.LocalFinding, error) {
	var idStr, scopeID, ruleKey, filePath, status, comment string
	err := row.Scan(&idStr, &scopeID, &ruleKey, &filePath, &status, &comment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt finding id %q: %w", idStr, err)
	}
	return &types.LocalFinding{
		ID:       id,
		ScopeID:  scopeID,
		RuleKey:  ruleKey,
		FilePath: filePath,
		Resolution: &types.Resolution{
			Status:  types.ResolutionStatus(status),
			Comment: comment,
		},
	}, nil
}

// Findings returns the server-finding cache for a binding.
func (s *Store) Findings(binding types.Binding) storage.ServerFindingStore {
	return &serverCache{db: s.db, binding: binding}
}

// PutServerFinding seeds the server cache for a binding. Called by the
// tracking sync when it downloads the server's known findings.
func (s *Store) PutServerFinding(ctx context.Context, binding types.Binding, key string, taint bool, ruleKey string, resolved bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO server_findings (connection_id, project_key, finding_key, taint, rule_key, resolved)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(connection_id, project_key, finding_key, taint) DO UPDATE SET
		   rule_key = excluded.rule_key,
		   resolved = excluded.resolved`,
		binding.ConnectionID, binding.ProjectKey, key, boolInt(taint), ruleKey, boolInt(resolved))
	if err != nil {
		return fmt.Errorf("caching server finding %s: %w", key, err)
	}
	return nil
}

type serverCache struct {
	db      *sql.DB
	binding types.Binding
}

func (c *serverCache) Contains(ctx context.Context, key string, taint bool) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM server_findings
		 WHERE connection_id = ? AND project_key = ? AND finding_key = ? AND taint = ?`,
		c.binding.ConnectionID, c.binding.ProjectKey, key, boolInt(taint)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *serverCache) UpdateResolution(ctx context.Context, key string, taint bool, resolved bool) (*types.FindingMeta, error) {
	var ruleKey string
	err := c.db.QueryRowContext(ctx,
		`SELECT rule_key FROM server_findings
		 WHERE connection_id = ? AND project_key = ? AND finding_key = ? AND taint = ?`,
		c.binding.ConnectionID, c.binding.ProjectKey, key, boolInt(taint)).Scan(&ruleKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE server_findings SET resolved = ?
		 WHERE connection_id = ? AND project_key = ? AND finding_key = ? AND taint = ?`,
		boolInt(resolved), c.binding.ConnectionID, c.binding.ProjectKey, key, boolInt(taint))
	if err != nil {
		return nil, fmt.Errorf("updating resolution for %s: %w", key, err)
	}
	return &types.FindingMeta{Key: key, RuleKey: ruleKey}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
