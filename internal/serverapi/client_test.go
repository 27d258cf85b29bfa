package serverapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/codereef/reef/internal/types"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(srv.URL, "token")
	return c, srv
}

func TestSearchByKeyReturnsTransitions(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/findings/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("keys"); got != "key-1" {
			t.Errorf("keys param = %q", got)
		}
		fmt.Fprint(w, `{"findings":[{"key":"key-1","transitions":{"transitions":["wontfix","falsepositive"]}}]}`)
	}))
	defer srv.Close()

	got, err := c.SearchByKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("SearchByKey: %v", err)
	}
	if got.Key != "key-1" || len(got.Transitions) != 2 || got.Transitions[0] != "wontfix" {
		t.Errorf("SearchByKey = %+v", got)
	}
}

func TestSearchByKeyZeroResults(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"findings":[]}`)
	}))
	defer srv.Close()

	_, err := c.SearchByKey(context.Background(), "key-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SearchByKey on empty result = %v, want ErrNotFound", err)
	}
}

func TestSearchByKeyMalformedBody(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	_, err := c.SearchByKey(context.Background(), "key-1")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("SearchByKey on garbage body = %v, want ErrMalformedResponse", err)
	}
}

func TestSearchByKeyTransportError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := c.SearchByKey(context.Background(), "key-1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusForbidden {
		t.Errorf("SearchByKey on 403 = %v, want StatusError{403}", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("transport error must not be reinterpreted as ErrNotFound")
	}
}

func TestSearchByKeyRetriesServerErrors(t *testing.T) {
	attempts := 0
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"findings":[{"key":"key-1","transitions":{"transitions":["accept"]}}]}`)
	}))
	defer srv.Close()

	if _, err := c.SearchByKey(context.Background(), "key-1"); err != nil {
		t.Fatalf("SearchByKey after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("server saw %d attempts, want 2", attempts)
	}
}

func TestSearchByKeySendsOrganization(t *testing.T) {
	var gotOrg string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = r.URL.Query().Get("organization")
		fmt.Fprint(w, `{"findings":[{"key":"k","transitions":{"transitions":[]}}]}`)
	}))
	defer srv.Close()
	c.Organization = "my-org"

	if _, err := c.SearchByKey(context.Background(), "k"); err != nil {
		t.Fatalf("SearchByKey: %v", err)
	}
	if gotOrg != "my-org" {
		t.Errorf("organization param = %q", gotOrg)
	}
}

func TestChangeStatus(t *testing.T) {
	var form map[string][]string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = r.PostForm
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := c.ChangeStatus(context.Background(), "key-1", types.TransitionReopen); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if form["finding"][0] != "key-1" || form["transition"][0] != "reopen" {
		t.Errorf("posted form = %v", form)
	}
}

func TestChangeStatusFailurePropagates(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := c.ChangeStatus(context.Background(), "key-1", types.TransitionAccept)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("ChangeStatus on 400 = %v, want StatusError", err)
	}
}

func TestPushAnticipatedTransitionsPayload(t *testing.T) {
	var payload struct {
		ProjectKey string `json:"projectKey"`
		Findings   []struct {
			ID         string `json:"id"`
			Transition string `json:"transition"`
			Comment    string `json:"comment"`
		} `json:"findings"`
	}
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resolved := &types.LocalFinding{
		ID:         uuid.New(),
		RuleKey:    "go:S1067",
		FilePath:   "pkg/a.go",
		Resolution: &types.Resolution{Status: types.StatusWontFix, Comment: "accepted debt"},
	}
	unresolved := &types.LocalFinding{ID: uuid.New(), RuleKey: "go:S2", FilePath: "pkg/b.go"}

	err := c.PushAnticipatedTransitions(context.Background(), "proj", []*types.LocalFinding{resolved, unresolved})
	if err != nil {
		t.Fatalf("PushAnticipatedTransitions: %v", err)
	}
	if payload.ProjectKey != "proj" {
		t.Errorf("projectKey = %q", payload.ProjectKey)
	}
	if len(payload.Findings) != 1 {
		t.Fatalf("pushed %d findings, want only the resolved one", len(payload.Findings))
	}
	if payload.Findings[0].ID != resolved.ID.String() || payload.Findings[0].Transition != "wontfix" {
		t.Errorf("pushed finding = %+v", payload.Findings[0])
	}
	if payload.Findings[0].Comment != "accepted debt" {
		t.Errorf("comment = %q", payload.Findings[0].Comment)
	}
}

func TestServerVersion(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/system/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"ABC","version":"10.4.1"}`)
	}))
	defer srv.Close()

	v, err := c.ServerVersion(context.Background())
	if err != nil {
		t.Fatalf("ServerVersion: %v", err)
	}
	if v != "10.4.1" {
		t.Errorf("ServerVersion = %q", v)
	}
}

func TestServerVersionMissingField(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"ABC"}`)
	}))
	defer srv.Close()

	if _, err := c.ServerVersion(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("ServerVersion without version field = %v, want ErrMalformedResponse", err)
	}
}
