// Package issue implements the resolution reconciliation service.
//
// The service decides whether a status change is permitted for a finding and
// executes status changes, comments and reopens, routing each request either
// to the bound server or to the local staging store. Findings the server has
// never seen are resolved through the anticipated-transitions channel: the
// server always receives the complete current set of locally resolved
// findings for a scope, never a delta, so a resend after a partial failure
// repairs any divergence.
package issue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/codereef/reef/internal/connection"
	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/storage"
	"github.com/codereef/reef/internal/types"
)

const (
	reasonMissingPermission  = "Marking a finding as resolved requires the 'Administer Findings' permission"
	reasonUnsupportedVersion = "Marking a local-only finding as resolved requires a self-hosted server 10.2+"
)

// BindingResolver resolves a local scope to its server binding.
// *config.Bindings satisfies it.
type BindingResolver interface {
	EffectiveBinding(scopeID string) (types.Binding, bool)
}

// Hook receives a notification after every successful status change.
// Implementations must not block; *telemetry.Recorder satisfies it.
type Hook interface {
	ResolutionChanged(ruleKey string)
}

// Service is the resolution reconciliation service. All methods are safe for
// concurrent use; read-modify-write sequences against the local store are
// linearized per scope.
type Service struct {
	bindings     BindingResolver
	connections  *connection.Registry
	local        storage.LocalFindingStore
	serverStores storage.ServerStoreProvider
	hook         Hook

	scopeLocks sync.Map // scopeID -> *sync.Mutex
}

// NewService wires the reconciliation service. hook may be nil.
func NewService(bindings BindingResolver, connections *connection.Registry,
	local storage.LocalFindingStore, serverStores storage.ServerStoreProvider, hook Hook) *Service {
	return &Service{
		bindings:     bindings,
		connections:  connections,
		local:        local,
		serverStores: serverStores,
		hook:         hook,
	}
}

func (s *Service) notify(ruleKey string) {
	if s.hook != nil {
		s.hook.ResolutionChanged(ruleKey)
	}
}

// lockScope serializes read-modify-write cycles for one scope. Without this,
// two concurrent status changes could each compute a resolved set missing the
// other's finding and the later push would silently drop one resolution.
func (s *Service) lockScope(scopeID string) func() {
	v, _ := s.scopeLocks.LoadOrStore(scopeID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CheckStatusChangePermitted answers whether the user may resolve the given
// finding and which statuses are offered. For local-only findings the answer
// is capability-driven (the server cannot report transitions for a finding it
// has never seen); for server findings it is derived from the transitions the
// server reports on the finding itself, preferring the current vocabulary
// when a migrating server exposes both.
func (s *Service) CheckStatusChangePermitted(ctx context.Context, connectionID, findingKey string) (*types.PermissionResult, error) {
	conn, ok := s.connections.Live(connectionID)
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", connectionID, ErrUnknownConnection)
	}

	if id, isLocal := types.ParseLocalID(findingKey); isLocal {
		_, err := s.local.Find(ctx, id)
		switch {
		case err == nil:
			if !conn.SupportsAnticipatedTransitions() {
				return notPermitted(reasonUnsupportedVersion), nil
			}
			return permitted(conn.Vocabulary(ctx)), nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
		// A UUID-shaped key with no local row is treated as a server key.
	}

	found, err := conn.API.SearchByKey(ctx, findingKey)
	if err != nil {
		// ErrNotFound, ErrMalformedResponse and transport errors all
		// propagate unchanged.
		return nil, err
	}
	available := make(map[string]bool, len(found.Transitions))
	for _, t := range found.Transitions {
		available[t] = true
	}
	for _, vocabulary := range [][]types.ResolutionStatus{types.CurrentVocabulary, types.LegacyVocabulary} {
		if containsAll(available, types.TransitionCodes(vocabulary)) {
			return permitted(vocabulary), nil
		}
	}
	return notPermitted(reasonMissingPermission), nil
}

// CheckAnticipatedResolutionSupported reports whether the server bound to the
// scope accepts pre-emptive resolutions. Unlike the mutating operations, a
// missing binding here is a reported precondition failure: the caller asked a
// question that has no answer without one.
func (s *Service) CheckAnticipatedResolutionSupported(ctx context.Context, scopeID string) (bool, error) {
	binding, ok := s.bindings.EffectiveBinding(scopeID)
	if !ok {
		return false, fmt.Errorf("binding for scope %q: %w", scopeID, ErrScopeNotBound)
	}
	conn, ok := s.connections.Live(binding.ConnectionID)
	if !ok {
		// Only reachable when the connection was deleted between the
		// binding lookup and now.
		return false, fmt.Errorf("connection %q: %w", binding.ConnectionID, ErrUnknownConnection)
	}
	return conn.SupportsAnticipatedTransitions(), nil
}

// ChangeStatus resolves a finding with the given status. Server-known
// findings go through the transition endpoint; local-only findings are
// resolved in the staging store and pushed to the server as the scope's full
// resolved set. The local store is written only after the push succeeds, so
// the store never records a resolution the server has not been told about.
//
// A scope with no binding or no live connection succeeds as a no-op: the user
// already acted locally and there is no server to tell.
func (s *Service) ChangeStatus(ctx context.Context, scopeID, findingKey string, newStatus types.ResolutionStatus, taint bool) error {
	binding, ok := s.bindings.EffectiveBinding(scopeID)
	if !ok {
		return nil
	}
	conn, ok := s.connections.Live(binding.ConnectionID)
	if !ok {
		return nil
	}
	transition := newStatus.Transition()
	if transition == "" {
		return &StatusChangeError{Cause: fmt.Errorf("unknown status %q", newStatus)}
	}

	serverStore := s.serverStores.Findings(binding)
	isServerFinding, err := serverStore.Contains(ctx, findingKey, taint)
	if err != nil {
		return &StatusChangeError{Cause: err}
	}
	if isServerFinding {
		if err := conn.API.ChangeStatus(ctx, findingKey, transition); err != nil {
			return &StatusChangeError{Cause: err}
		}
		if meta, err := serverStore.UpdateResolution(ctx, findingKey, taint, true); err == nil {
			s.notify(meta.RuleKey)
		}
		return nil
	}

	id, isLocal := types.ParseLocalID(findingKey)
	if !isLocal {
		return &StatusChangeError{Cause: fmt.Errorf("finding %q was not found", findingKey)}
	}
	unlock := s.lockScope(scopeID)
	defer unlock()

	finding, err := s.local.Find(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return &StatusChangeError{Cause: fmt.Errorf("finding %q was not found", findingKey)}
	}
	if err != nil {
		return &StatusChangeError{Cause: err}
	}
	finding.Resolution = &types.Resolution{Status: newStatus}

	all, err := s.local.LoadAll(ctx, scopeID)
	if err != nil {
		return &StatusChangeError{Cause: err}
	}
	resolved := mergeResolvedSet(all, finding, nil)
	if err := conn.API.PushAnticipatedTransitions(ctx, binding.ProjectKey, resolved); err != nil {
		return &StatusChangeError{Cause: err}
	}
	if err := s.local.Store(ctx, scopeID, finding); err != nil {
		return &StatusChangeError{Cause: err}
	}
	s.notify(finding.RuleKey)
	return nil
}

// AddComment attaches a comment to a finding. A local-only finding that is
// already resolved gets the comment on its resolution and the scope's
// resolved set is re-pushed; anything else (unparseable key, no local row,
// unresolved local row) is treated as a server finding.
func (s *Service) AddComment(ctx context.Context, scopeID, findingKey, text string) error {
	if id, isLocal := types.ParseLocalID(findingKey); isLocal {
		handled, err := s.commentLocalFinding(ctx, scopeID, id, text)
		if handled {
			return err
		}
	}

	binding, ok := s.bindings.EffectiveBinding(scopeID)
	if !ok {
		return nil
	}
	conn, ok := s.connections.Live(binding.ConnectionID)
	if !ok {
		return nil
	}
	if err := conn.API.AddComment(ctx, findingKey, text); err != nil {
		return &CommentError{Cause: err}
	}
	return nil
}

// commentLocalFinding reports handled=false when the comment should fall
// through to the server path instead.
func (s *Service) commentLocalFinding(ctx context.Context, scopeID string, id uuid.UUID, text string) (bool, error) {
	unlock := s.lockScope(scopeID)
	defer unlock()

	finding, err := s.local.Find(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, &CommentError{Cause: err}
	}
	if !finding.Resolved() {
		// Comments only attach to resolutions; the store holds resolved
		// findings only, so this is a stale row at worst.
		return false, nil
	}

	binding, ok := s.bindings.EffectiveBinding(scopeID)
	if !ok {
		return true, nil
	}
	conn, ok := s.connections.Live(binding.ConnectionID)
	if !ok {
		return true, nil
	}

	finding.Resolution.Comment = text
	all, err := s.local.LoadAll(ctx, scopeID)
	if err != nil {
		return true, &CommentError{Cause: err}
	}
	resolved := mergeResolvedSet(all, finding, nil)
	if err := conn.API.PushAnticipatedTransitions(ctx, binding.ProjectKey, resolved); err != nil {
		return true, &CommentError{Cause: err}
	}
	if err := s.local.Store(ctx, scopeID, finding); err != nil {
		return true, &CommentError{Cause: err}
	}
	return true, nil
}

// Reopen reverts a finding's resolution. Returns false (without error) when
// no live connection exists or the id cannot name a finding: absence of
// connectivity is a normal outcome here, not an error, in contrast to
// ChangeStatus's silent no-op. Remote transition failures are errors.
func (s *Service) Reopen(ctx context.Context, scopeID, findingID string, taint bool) (bool, error) {
	binding, ok := s.bindings.EffectiveBinding(scopeID)
	if !ok {
		return false, nil
	}
	conn, ok := s.connections.Live(binding.ConnectionID)
	if !ok {
		return false, nil
	}

	serverStore := s.serverStores.Findings(binding)
	isServerFinding, err := serverStore.Contains(ctx, findingID, taint)
	if err != nil {
		return false, &StatusChangeError{Cause: err}
	}
	if isServerFinding {
		if err := conn.API.ChangeStatus(ctx, findingID, types.TransitionReopen); err != nil {
			return false, &StatusChangeError{Cause: err}
		}
		if meta, err := serverStore.UpdateResolution(ctx, findingID, taint, false); err == nil {
			s.notify(meta.RuleKey)
		}
		return true, nil
	}

	id, isLocal := types.ParseLocalID(findingID)
	if !isLocal {
		return false, nil
	}
	unlock := s.lockScope(scopeID)
	defer unlock()

	all, err := s.local.LoadAll(ctx, scopeID)
	if err != nil {
		return false, err
	}
	resolved := mergeResolvedSet(all, nil, map[uuid.UUID]bool{id: true})
	if err := conn.API.PushAnticipatedTransitions(ctx, binding.ProjectKey, resolved); err != nil {
		return false, err
	}
	if err := s.local.Remove(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// ReopenAllForPath reopens every local-only finding under filePath in the
// scope. The remote push of the reduced set is best effort; the local cleanup
// always proceeds and the operation always reports success. A failed push
// therefore leaves the server remembering resolutions the local store has
// dropped until the next full resend.
func (s *Service) ReopenAllForPath(ctx context.Context, scopeID, filePath string) bool {
	unlock := s.lockScope(scopeID)
	defer unlock()

	if binding, ok := s.bindings.EffectiveBinding(scopeID); ok {
		if conn, ok := s.connections.Live(binding.ConnectionID); ok {
			if err := s.pushWithoutPath(ctx, conn, binding, scopeID, filePath); err != nil {
				debug.Logf("reopen all for %s: push failed: %v\n", filePath, err)
			}
		}
	}
	if err := s.local.RemoveForPath(ctx, scopeID, filePath); err != nil {
		debug.Logf("reopen all for %s: local cleanup failed: %v\n", filePath, err)
	}
	return true
}

func (s *Service) pushWithoutPath(ctx context.Context, conn *connection.Connection, binding types.Binding, scopeID, filePath string) error {
	all, err := s.local.LoadAll(ctx, scopeID)
	if err != nil {
		return err
	}
	forPath, err := s.local.LoadForPath(ctx, scopeID, filePath)
	if err != nil {
		return err
	}
	exclude := make(map[uuid.UUID]bool, len(forPath))
	for _, f := range forPath {
		exclude[f.ID] = true
	}
	return conn.API.PushAnticipatedTransitions(ctx, binding.ProjectKey, mergeResolvedSet(all, nil, exclude))
}

// mergeResolvedSet computes the set to push: every resolved finding in all,
// minus exclusions, with include replacing the entry sharing its id (or
// appended when absent). Pure so the full-resend discipline is testable
// without a network.
func mergeResolvedSet(all []*types.LocalFinding, include *types.LocalFinding, exclude map[uuid.UUID]bool) []*types.LocalFinding {
	out := make([]*types.LocalFinding, 0, len(all)+1)
	replaced := false
	for _, f := range all {
		if exclude[f.ID] || !f.Resolved() {
			continue
		}
		if include != nil && f.ID == include.ID {
			out = append(out, include)
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if include != nil && !replaced {
		out = append(out, include)
	}
	return out
}

func containsAll(available map[string]bool, required []string) bool {
	for _, code := range required {
		if !available[code] {
			return false
		}
	}
	return true
}

func permitted(vocabulary []types.ResolutionStatus) *types.PermissionResult {
	return &types.PermissionResult{
		Permitted:       true,
		AllowedStatuses: vocabulary,
	}
}

func notPermitted(reason string) *types.PermissionResult {
	return &types.PermissionResult{
		Reason:          reason,
		AllowedStatuses: []types.ResolutionStatus{},
	}
}
