package issue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codereef/reef/internal/connection"
	"github.com/codereef/reef/internal/serverapi"
	"github.com/codereef/reef/internal/storage/memory"
	"github.com/codereef/reef/internal/types"
	"github.com/codereef/reef/internal/version"
)

type fakeGateway struct {
	mu sync.Mutex

	searchResult *serverapi.FindingTransitions
	searchErr    error
	changeErr    error
	commentErr   error
	pushErr      error

	changedKeys        []string
	changedTransitions []types.Transition
	comments           map[string]string
	pushedProjects     []string
	pushes             [][]*types.LocalFinding
}

func (g *fakeGateway) SearchByKey(_ context.Context, key string) (*serverapi.FindingTransitions, error) {
	if g.searchErr != nil {
		return nil, g.searchErr
	}
	return g.searchResult, nil
}

func (g *fakeGateway) ChangeStatus(_ context.Context, key string, t types.Transition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.changeErr != nil {
		return g.changeErr
	}
	g.changedKeys = append(g.changedKeys, key)
	g.changedTransitions = append(g.changedTransitions, t)
	return nil
}

func (g *fakeGateway) AddComment(_ context.Context, key, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.commentErr != nil {
		return g.commentErr
	}
	if g.comments == nil {
		g.comments = make(map[string]string)
	}
	g.comments[key] = text
	return nil
}

func (g *fakeGateway) PushAnticipatedTransitions(_ context.Context, projectKey string, findings []*types.LocalFinding) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pushErr != nil {
		return g.pushErr
	}
	set := make([]*types.LocalFinding, len(findings))
	for i, f := range findings {
		c := *f
		if f.Resolution != nil {
			r := *f.Resolution
			c.Resolution = &r
		}
		set[i] = &c
	}
	g.pushedProjects = append(g.pushedProjects, projectKey)
	g.pushes = append(g.pushes, set)
	return nil
}

func (g *fakeGateway) ServerVersion(context.Context) (string, error) {
	return "", errors.New("no version endpoint in fake")
}

func (g *fakeGateway) lastPush() []*types.LocalFinding {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pushes) == 0 {
		return nil
	}
	return g.pushes[len(g.pushes)-1]
}

func (g *fakeGateway) pushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

type staticBindings map[string]types.Binding

func (b staticBindings) EffectiveBinding(scopeID string) (types.Binding, bool) {
	binding, ok := b[scopeID]
	return binding, ok
}

type recordingHook struct {
	mu       sync.Mutex
	ruleKeys []string
}

func (h *recordingHook) ResolutionChanged(ruleKey string) {
	h.mu.Lock()
	h.ruleKeys = append(h.ruleKeys, ruleKey)
	h.mu.Unlock()
}

const (
	testScope   = "backend"
	testConnID  = "sq"
	testProject = "org.example:backend"
)

type fixture struct {
	service  *Service
	gateway  *fakeGateway
	local    *memory.LocalStore
	caches   *memory.CacheProvider
	hook     *recordingHook
	registry *connection.Registry
	binding  types.Binding
}

func newFixture(t *testing.T, kind connection.Kind, serverVersion string) *fixture {
	t.Helper()
	gw := &fakeGateway{}
	conn := connection.New(testConnID, kind, gw)
	if serverVersion != "" {
		conn.SetVersion(version.MustParse(serverVersion))
	}
	registry := connection.NewRegistry()
	registry.Add(conn)

	binding := types.Binding{ConnectionID: testConnID, ProjectKey: testProject}
	local := memory.NewLocalStore()
	caches := memory.NewCacheProvider()
	hook := &recordingHook{}
	svc := NewService(staticBindings{testScope: binding}, registry, local, caches, hook)
	return &fixture{
		service:  svc,
		gateway:  gw,
		local:    local,
		caches:   caches,
		hook:     hook,
		registry: registry,
		binding:  binding,
	}
}

func (fx *fixture) addLocalFinding(t *testing.T, path string, status types.ResolutionStatus) *types.LocalFinding {
	t.Helper()
	f := &types.LocalFinding{
		ID:       uuid.New(),
		RuleKey:  "go:S1067",
		FilePath: path,
	}
	if status != "" {
		f.Resolution = &types.Resolution{Status: status}
	}
	if err := fx.local.Store(context.Background(), testScope, f); err != nil {
		t.Fatalf("seeding local finding: %v", err)
	}
	return f
}

func TestCheckPermittedUnknownConnection(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")

	_, err := fx.service.CheckStatusChangePermitted(context.Background(), "nope", "key")
	if !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("unknown connection error = %v", err)
	}
}

func TestCheckPermittedLocalFinding(t *testing.T) {
	tests := []struct {
		name          string
		kind          connection.Kind
		version       string
		wantPermitted bool
		wantStatuses  []types.ResolutionStatus
	}{
		{"below anticipated threshold", connection.KindSelfHosted, "10.1", false, nil},
		{"unknown version", connection.KindSelfHosted, "", false, nil},
		{"legacy range", connection.KindSelfHosted, "10.3", true, types.LegacyVocabulary},
		{"current range", connection.KindSelfHosted, "10.4", true, types.CurrentVocabulary},
		{"cloud regardless of version", connection.KindCloud, "99.9", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, tt.kind, tt.version)
			f := fx.addLocalFinding(t, "pkg/a.go", types.StatusWontFix)

			got, err := fx.service.CheckStatusChangePermitted(context.Background(), testConnID, f.ID.String())
			require.NoError(t, err)
			assert.Equal(t, tt.wantPermitted, got.Permitted)
			if tt.wantPermitted {
				assert.Empty(t, got.Reason)
				assert.Equal(t, tt.wantStatuses, got.AllowedStatuses)
			} else {
				assert.Equal(t, reasonUnsupportedVersion, got.Reason)
				assert.Empty(t, got.AllowedStatuses)
			}
		})
	}
}

func TestCheckPermittedServerFinding(t *testing.T) {
	tests := []struct {
		name          string
		transitions   []string
		wantPermitted bool
		wantStatuses  []types.ResolutionStatus
		wantReason    string
	}{
		{"legacy pair", []string{"wontfix", "falsepositive"}, true, types.LegacyVocabulary, ""},
		{"current pair", []string{"accept", "falsepositive"}, true, types.CurrentVocabulary, ""},
		// A migrating server exposes both codes for a while; current must win.
		{"both pairs", []string{"accept", "wontfix", "falsepositive"}, true, types.CurrentVocabulary, ""},
		{"missing permission", []string{"confirm"}, false, nil, reasonMissingPermission},
		{"no transitions", nil, false, nil, reasonMissingPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, connection.KindSelfHosted, "10.3")
			fx.gateway.searchResult = &serverapi.FindingTransitions{Key: "key-1", Transitions: tt.transitions}

			got, err := fx.service.CheckStatusChangePermitted(context.Background(), testConnID, "key-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPermitted, got.Permitted)
			assert.Equal(t, tt.wantReason, got.Reason)
			if tt.wantPermitted {
				assert.Equal(t, tt.wantStatuses, got.AllowedStatuses)
			} else {
				assert.Empty(t, got.AllowedStatuses)
			}
		})
	}
}

func TestCheckPermittedSearchFailuresPropagate(t *testing.T) {
	for _, cause := range []error{
		serverapi.ErrNotFound,
		serverapi.ErrMalformedResponse,
		&serverapi.StatusError{Code: 503, Body: "unavailable"},
	} {
		fx := newFixture(t, connection.KindSelfHosted, "10.3")
		fx.gateway.searchErr = cause

		_, err := fx.service.CheckStatusChangePermitted(context.Background(), testConnID, "key-1")
		if !errors.Is(err, cause) {
			t.Errorf("search error %v was reinterpreted as %v", cause, err)
		}
	}
}

func TestChangeStatusNoBindingIsNoOp(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")

	err := fx.service.ChangeStatus(context.Background(), "unbound-scope", "key-1", types.StatusWontFix, false)
	require.NoError(t, err)
	assert.Zero(t, fx.gateway.pushCount())
	assert.Empty(t, fx.gateway.changedKeys)
}

func TestChangeStatusDeadConnectionIsNoOp(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.registry.Remove(testConnID)
	f := fx.addLocalFinding(t, "pkg/a.go", "")

	err := fx.service.ChangeStatus(context.Background(), testScope, f.ID.String(), types.StatusWontFix, false)
	require.NoError(t, err)

	got, err := fx.local.Find(context.Background(), f.ID)
	require.NoError(t, err)
	assert.False(t, got.Resolved(), "no-op must not mutate the store")
}

func TestChangeStatusServerFinding(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.caches.Cache(fx.binding).Put("key-1", false, "go:S100", false)

	err := fx.service.ChangeStatus(context.Background(), testScope, "key-1", types.StatusFalsePositive, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"key-1"}, fx.gateway.changedKeys)
	assert.Equal(t, []types.Transition{types.TransitionFalsePositive}, fx.gateway.changedTransitions)
	assert.True(t, fx.caches.Cache(fx.binding).Resolved("key-1", false))
	assert.Equal(t, []string{"go:S100"}, fx.hook.ruleKeys)
	assert.Zero(t, fx.gateway.pushCount(), "server findings never go through the anticipated channel")
}

func TestChangeStatusServerFindingRemoteFailure(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.caches.Cache(fx.binding).Put("key-1", false, "go:S100", false)
	fx.gateway.changeErr = errors.New("boom")

	err := fx.service.ChangeStatus(context.Background(), testScope, "key-1", types.StatusWontFix, false)
	var statusErr *StatusChangeError
	require.ErrorAs(t, err, &statusErr)
	assert.False(t, fx.caches.Cache(fx.binding).Resolved("key-1", false))
	assert.Empty(t, fx.hook.ruleKeys)
}

func TestChangeStatusLocalFinding(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	other := fx.addLocalFinding(t, "pkg/b.go", types.StatusFalsePositive)
	f := fx.addLocalFinding(t, "pkg/a.go", "")

	err := fx.service.ChangeStatus(ctx, testScope, f.ID.String(), types.StatusWontFix, false)
	require.NoError(t, err)

	pushed := fx.gateway.lastPush()
	require.Len(t, pushed, 2, "push must carry the full resolved set")
	byID := map[uuid.UUID]*types.LocalFinding{pushed[0].ID: pushed[0], pushed[1].ID: pushed[1]}
	require.Contains(t, byID, f.ID)
	require.Contains(t, byID, other.ID)
	assert.Equal(t, types.StatusWontFix, byID[f.ID].Resolution.Status)
	assert.Empty(t, byID[f.ID].Resolution.Comment)
	assert.Equal(t, []string{testProject}, fx.gateway.pushedProjects)

	stored, err := fx.local.Find(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWontFix, stored.Resolution.Status)
	assert.Equal(t, []string{"go:S1067"}, fx.hook.ruleKeys)
}

func TestChangeStatusLocalPushFailureDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	f := fx.addLocalFinding(t, "pkg/a.go", "")
	fx.gateway.pushErr = errors.New("connection reset")

	err := fx.service.ChangeStatus(ctx, testScope, f.ID.String(), types.StatusWontFix, false)
	var statusErr *StatusChangeError
	require.ErrorAs(t, err, &statusErr)

	stored, err := fx.local.Find(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, stored.Resolved(), "store must only be written after a successful push")
	assert.Empty(t, fx.hook.ruleKeys)
}

func TestChangeStatusUnknownLocalID(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")

	err := fx.service.ChangeStatus(context.Background(), testScope, uuid.NewString(), types.StatusWontFix, false)
	var statusErr *StatusChangeError
	require.ErrorAs(t, err, &statusErr)
}

func TestResolveThenCommentRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	f := fx.addLocalFinding(t, "pkg/a.go", "")

	require.NoError(t, fx.service.ChangeStatus(ctx, testScope, f.ID.String(), types.StatusWontFix, false))
	require.NoError(t, fx.service.AddComment(ctx, testScope, f.ID.String(), "known issue"))

	pushed := fx.gateway.lastPush()
	require.Len(t, pushed, 1, "comment re-push must not duplicate the finding")
	assert.Equal(t, types.StatusWontFix, pushed[0].Resolution.Status, "comment must preserve the status")
	assert.Equal(t, "known issue", pushed[0].Resolution.Comment)

	stored, err := fx.local.Find(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "known issue", stored.Resolution.Comment)
}

func TestAddCommentUnresolvedLocalGoesToServer(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	f := fx.addLocalFinding(t, "pkg/a.go", "")

	require.NoError(t, fx.service.AddComment(context.Background(), testScope, f.ID.String(), "note"))
	assert.Equal(t, "note", fx.gateway.comments[f.ID.String()])
	assert.Zero(t, fx.gateway.pushCount())
}

func TestAddCommentServerKey(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")

	require.NoError(t, fx.service.AddComment(context.Background(), testScope, "key-1", "note"))
	assert.Equal(t, "note", fx.gateway.comments["key-1"])
}

func TestAddCommentServerFailure(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.gateway.commentErr = errors.New("boom")

	err := fx.service.AddComment(context.Background(), testScope, "key-1", "note")
	var commentErr *CommentError
	require.ErrorAs(t, err, &commentErr)
}

func TestAddCommentNoBindingIsNoOp(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	require.NoError(t, fx.service.AddComment(context.Background(), "unbound-scope", "key-1", "note"))
	assert.Empty(t, fx.gateway.comments)
}

func TestReopenNoConnectionReturnsFalse(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.registry.Remove(testConnID)

	ok, err := fx.service.Reopen(context.Background(), testScope, "key-1", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopenServerFinding(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.caches.Cache(fx.binding).Put("key-1", true, "go:S200", true)

	ok, err := fx.service.Reopen(context.Background(), testScope, "key-1", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []types.Transition{types.TransitionReopen}, fx.gateway.changedTransitions)
	assert.False(t, fx.caches.Cache(fx.binding).Resolved("key-1", true))
	assert.Equal(t, []string{"go:S200"}, fx.hook.ruleKeys)
}

func TestReopenServerFindingRemoteFailureIsError(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.caches.Cache(fx.binding).Put("key-1", false, "go:S200", true)
	fx.gateway.changeErr = errors.New("boom")

	ok, err := fx.service.Reopen(context.Background(), testScope, "key-1", false)
	assert.False(t, ok)
	var statusErr *StatusChangeError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, fx.caches.Cache(fx.binding).Resolved("key-1", false), "failed reopen must not clear the cache")
}

func TestReopenLocalFinding(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	keep := fx.addLocalFinding(t, "pkg/b.go", types.StatusWontFix)
	f := fx.addLocalFinding(t, "pkg/a.go", types.StatusWontFix)

	ok, err := fx.service.Reopen(ctx, testScope, f.ID.String(), false)
	require.NoError(t, err)
	assert.True(t, ok)

	pushed := fx.gateway.lastPush()
	require.Len(t, pushed, 1, "push must exclude the reopened finding")
	assert.Equal(t, keep.ID, pushed[0].ID)

	_, err = fx.local.Find(ctx, f.ID)
	assert.Error(t, err, "reopened finding must be removed from the store")
}

func TestReopenUnparseableIDReturnsFalse(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.3")

	ok, err := fx.service.Reopen(context.Background(), testScope, "not-a-uuid-and-not-cached", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopenAllForPath(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	a1 := fx.addLocalFinding(t, "pkg/a.go", types.StatusWontFix)
	a2 := fx.addLocalFinding(t, "pkg/a.go", types.StatusFalsePositive)
	b := fx.addLocalFinding(t, "pkg/b.go", types.StatusWontFix)

	ok := fx.service.ReopenAllForPath(ctx, testScope, "pkg/a.go")
	assert.True(t, ok)

	pushed := fx.gateway.lastPush()
	require.Len(t, pushed, 1, "push must carry the set minus the reopened path")
	assert.Equal(t, b.ID, pushed[0].ID)

	for _, removed := range []*types.LocalFinding{a1, a2} {
		if _, err := fx.local.Find(ctx, removed.ID); err == nil {
			t.Errorf("finding %s under pkg/a.go still stored", removed.ID)
		}
	}
	if _, err := fx.local.Find(ctx, b.ID); err != nil {
		t.Errorf("finding under pkg/b.go was removed: %v", err)
	}
}

func TestReopenAllForPathWithoutConnectionStillSucceeds(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	fx.registry.Remove(testConnID)
	f := fx.addLocalFinding(t, "pkg/a.go", types.StatusWontFix)

	ok := fx.service.ReopenAllForPath(ctx, testScope, "pkg/a.go")
	assert.True(t, ok)
	if _, err := fx.local.Find(ctx, f.ID); err == nil {
		t.Error("local cleanup skipped without a connection")
	}
}

func TestReopenAllForPathPushFailureStillCleansUp(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	f := fx.addLocalFinding(t, "pkg/a.go", types.StatusWontFix)
	fx.gateway.pushErr = errors.New("boom")

	ok := fx.service.ReopenAllForPath(ctx, testScope, "pkg/a.go")
	assert.True(t, ok, "reopen-all has no failure channel")
	if _, err := fx.local.Find(ctx, f.ID); err == nil {
		t.Error("local cleanup skipped after failed push")
	}
}

func TestCheckAnticipatedResolutionSupported(t *testing.T) {
	fx := newFixture(t, connection.KindSelfHosted, "10.2")

	ok, err := fx.service.CheckAnticipatedResolutionSupported(context.Background(), testScope)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = fx.service.CheckAnticipatedResolutionSupported(context.Background(), "unbound-scope")
	assert.ErrorIs(t, err, ErrScopeNotBound)

	fx.registry.Remove(testConnID)
	_, err = fx.service.CheckAnticipatedResolutionSupported(context.Background(), testScope)
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestMergeResolvedSet(t *testing.T) {
	resolved := func(path string) *types.LocalFinding {
		return &types.LocalFinding{
			ID:         uuid.New(),
			FilePath:   path,
			Resolution: &types.Resolution{Status: types.StatusWontFix},
		}
	}
	a := resolved("a.go")
	b := resolved("b.go")
	unresolved := &types.LocalFinding{ID: uuid.New(), FilePath: "c.go"}
	all := []*types.LocalFinding{a, b, unresolved}

	t.Run("drops unresolved", func(t *testing.T) {
		got := mergeResolvedSet(all, nil, nil)
		assert.Equal(t, []*types.LocalFinding{a, b}, got)
	})

	t.Run("replaces by id without duplicating", func(t *testing.T) {
		updated := *a
		updated.Resolution = &types.Resolution{Status: types.StatusWontFix, Comment: "c"}
		got := mergeResolvedSet(all, &updated, nil)
		require.Len(t, got, 2)
		assert.Equal(t, "c", got[0].Resolution.Comment)
	})

	t.Run("appends a newly resolved finding", func(t *testing.T) {
		extra := resolved("d.go")
		got := mergeResolvedSet(all, extra, nil)
		assert.Equal(t, []*types.LocalFinding{a, b, extra}, got)
	})

	t.Run("excludes", func(t *testing.T) {
		got := mergeResolvedSet(all, nil, map[uuid.UUID]bool{a.ID: true})
		assert.Equal(t, []*types.LocalFinding{b}, got)
	})

	t.Run("idempotent", func(t *testing.T) {
		once := mergeResolvedSet(all, nil, nil)
		twice := mergeResolvedSet(once, nil, nil)
		assert.Equal(t, once, twice)
	})
}

func TestConcurrentChangesKeepFullSet(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connection.KindSelfHosted, "10.3")
	findings := make([]*types.LocalFinding, 8)
	for i := range findings {
		findings[i] = fx.addLocalFinding(t, "pkg/a.go", "")
	}

	var wg sync.WaitGroup
	for _, f := range findings {
		wg.Add(1)
		go func(f *types.LocalFinding) {
			defer wg.Done()
			if err := fx.service.ChangeStatus(ctx, testScope, f.ID.String(), types.StatusWontFix, false); err != nil {
				t.Errorf("ChangeStatus(%s): %v", f.ID, err)
			}
		}(f)
	}
	wg.Wait()

	pushed := fx.gateway.lastPush()
	assert.Len(t, pushed, len(findings), "final push must carry every resolved finding")
}
