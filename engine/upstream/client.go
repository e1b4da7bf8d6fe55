// Package upstream is the HTTP adapter for the third-party search and
// autocomplete endpoints.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/combolab/combo-engine/engine/domain"
)

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 10 * time.Second

// Client calls the search signal source over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a client. Outbound requests are traced with otelhttp.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type searchResp struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"results"`
}

type autocompleteResp struct {
	Suggestions []string `json:"suggestions"`
}

// Search returns the result count and top matches for term.
func (c *Client) Search(ctx context.Context, term, locale string, platform domain.Platform) (domain.SearchResult, error) {
	var resp searchResp
	if err := c.get(ctx, "search", "/v1/search", term, locale, platform, &resp); err != nil {
		return domain.SearchResult{}, err
	}
	out := domain.SearchResult{ResultCount: resp.ResultCount, TopMatches: make([]domain.Match, len(resp.Results))}
	for i, r := range resp.Results {
		out.TopMatches[i] = domain.Match{ID: r.ID, Title: r.Title}
	}
	if out.ResultCount < len(out.TopMatches) {
		out.ResultCount = len(out.TopMatches)
	}
	return out, nil
}

// Autocomplete reports whether term shows up in the suggestions for itself
// and at which 1-based rank.
func (c *Client) Autocomplete(ctx context.Context, term, locale string, platform domain.Platform) (domain.AutocompleteSignal, error) {
	var resp autocompleteResp
	if err := c.get(ctx, "autocomplete", "/v1/autocomplete", term, locale, platform, &resp); err != nil {
		return domain.AutocompleteSignal{}, err
	}
	for i, s := range resp.Suggestions {
		if s == term {
			return domain.AutocompleteSignal{Present: true, Rank: domain.IntPtr(i + 1)}, nil
		}
	}
	return domain.AutocompleteSignal{}, nil
}

func (c *Client) get(ctx context.Context, op, path, term, locale string, platform domain.Platform, out any) error {
	q := url.Values{}
	q.Set("term", term)
	q.Set("locale", locale)
	q.Set("platform", string(platform))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &domain.UpstreamError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.UpstreamError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
