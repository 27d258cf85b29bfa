// Package serverapi provides HTTP access to a reef review server.
//
// The client is the transport collaborator for the reconciliation service:
// retry policy lives here (idempotent GETs only), never in the callers.
package serverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/types"
)

// FindingTransitions is the server's answer to a search by key: the finding
// key and the transition codes the current user may apply to it.
type FindingTransitions struct {
	Key         string
	Transitions []string
}

// Client provides HTTP access to a review server instance.
type Client struct {
	BaseURL      string
	Token        string
	Organization string // set for cloud connections only
	HTTPClient   *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: trimSlash(baseURL),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// SearchByKey looks up a single finding by its exact server key and returns
// the transitions available to the caller. Zero results map to ErrNotFound,
// an uninterpretable body to ErrMalformedResponse.
func (c *Client) SearchByKey(ctx context.Context, key string) (*FindingTransitions, error) {
	params := url.Values{
		"keys":             {key},
		"additionalFields": {"transitions"},
	}
	if c.Organization != "" {
		params.Set("organization", c.Organization)
	}
	apiURL := fmt.Sprintf("%s/api/findings/search?%s", c.BaseURL, params.Encode())

	body, err := c.getWithRetry(ctx, apiURL)
	if err != nil {
		return nil, err
	}

	var result struct {
		Findings []struct {
			Key         string `json:"key"`
			Transitions struct {
				Transitions []string `json:"transitions"`
			} `json:"transitions"`
		} `json:"findings"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, f := range result.Findings {
		if f.Key == key {
			return &FindingTransitions{Key: f.Key, Transitions: f.Transitions.Transitions}, nil
		}
	}
	return nil, fmt.Errorf("no finding with key %q: %w", key, ErrNotFound)
}

// ChangeStatus applies a transition to a server-known finding.
func (c *Client) ChangeStatus(ctx context.Context, key string, transition types.Transition) error {
	form := url.Values{
		"finding":    {key},
		"transition": {string(transition)},
	}
	apiURL := fmt.Sprintf("%s/api/findings/do_transition", c.BaseURL)
	if _, err := c.doRequest(ctx, http.MethodPost, apiURL, []byte(form.Encode()), formContent); err != nil {
		return fmt.Errorf("transition %s on %s: %w", transition, key, err)
	}
	return nil
}

// AddComment attaches a comment to a server-known finding.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	form := url.Values{
		"finding": {key},
		"text":    {text},
	}
	apiURL := fmt.Sprintf("%s/api/findings/add_comment", c.BaseURL)
	if _, err := c.doRequest(ctx, http.MethodPost, apiURL, []byte(form.Encode()), formContent); err != nil {
		return fmt.Errorf("comment on %s: %w", key, err)
	}
	return nil
}

type anticipatedFinding struct {
	ID         string `json:"id"`
	RuleKey    string `json:"ruleKey"`
	FilePath   string `json:"filePath"`
	Transition string `json:"transition"`
	Comment    string `json:"comment,omitempty"`
}

// PushAnticipatedTransitions replaces the server's record of pre-emptive
// resolutions for a project with the given set. Callers always send the
// complete current set for the scope, never a delta; the server treats a
// resend of an already-applied set as a no-op.
func (c *Client) PushAnticipatedTransitions(ctx context.Context, projectKey string, findings []*types.LocalFinding) error {
	wire := make([]anticipatedFinding, 0, len(findings))
	for _, f := range findings {
		if f.Resolution == nil {
			continue
		}
		wire = append(wire, anticipatedFinding{
			ID:         f.ID.String(),
			RuleKey:    f.RuleKey,
			FilePath:   f.FilePath,
			Transition: string(f.Resolution.Status.Transition()),
			Comment:    f.Resolution.Comment,
		})
	}
	payload, err := json.Marshal(map[string]any{
		"projectKey": projectKey,
		"findings":   wire,
	})
	if err != nil {
		return fmt.Errorf("marshal anticipated transitions: %w", err)
	}
	apiURL := fmt.Sprintf("%s/api/findings/anticipated_transitions", c.BaseURL)
	if _, err := c.doRequest(ctx, http.MethodPost, apiURL, payload, jsonContent); err != nil {
		return fmt.Errorf("push anticipated transitions for %s: %w", projectKey, err)
	}
	return nil
}

// ServerVersion fetches the server's release version from the status endpoint.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	apiURL := fmt.Sprintf("%s/api/system/status", c.BaseURL)
	body, err := c.getWithRetry(ctx, apiURL)
	if err != nil {
		return "", err
	}
	var status struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if status.Version == "" {
		return "", fmt.Errorf("%w: status response has no version", ErrMalformedResponse)
	}
	return status.Version, nil
}

// getWithRetry performs a GET, retrying transient failures (network errors
// and 5xx) a couple of times with exponential backoff. Client errors are
// permanent and returned immediately.
func (c *Client) getWithRetry(ctx context.Context, apiURL string) ([]byte, error) {
	var body []byte
	op := func() error {
		var err error
		body, err = c.doRequest(ctx, http.MethodGet, apiURL, nil, "")
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return body, nil
}

const (
	jsonContent = "application/json"
	formContent = "application/x-www-form-urlencoded"
)

func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte, contentType string) ([]byte, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("server URL not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "reef/1.0")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	debug.Logf("serverapi: %s %s\n", method, apiURL)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
