package types

import (
	"github.com/google/uuid"
)

// Resolution records how a local finding was resolved. Comment is empty until
// the user adds one.
type Resolution struct {
	Status  ResolutionStatus `json:"status"`
	Comment string           `json:"comment,omitempty"`
}

// LocalFinding is a finding known only to the local tool, not yet acknowledged
// by the server. The id is generated the moment the finding is first detected
// and stays valid until the tracking engine promotes the finding to a
// server-assigned key. Resolution is nil while the finding is unresolved; the
// local store only ever holds resolved findings.
type LocalFinding struct {
	ID         uuid.UUID   `json:"id"`
	ScopeID    string      `json:"scope_id"`
	RuleKey    string      `json:"rule_key"`
	FilePath   string      `json:"file_path"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Resolved reports whether the finding carries a resolution.
func (f *LocalFinding) Resolved() bool {
	return f.Resolution != nil
}

// FindingMeta is the slice of a cached server finding that resolution
// bookkeeping needs.
type FindingMeta struct {
	Key     string
	RuleKey string
}

// Binding associates a local project scope with a server project. Owned by
// configuration; read-only everywhere else.
type Binding struct {
	ConnectionID string `yaml:"connection" json:"connection_id"`
	ProjectKey   string `yaml:"project_key" json:"project_key"`
}

// ParseLocalID classifies a finding key: a key that parses as a UUID is a
// locally generated id, anything else is a server-assigned key. This is the
// single classification point; callers must not attempt their own parsing.
func ParseLocalID(key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(key)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
