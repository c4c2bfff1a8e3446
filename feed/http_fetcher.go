package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ferro-labs/feed-gateway/graph"
	"github.com/ferro-labs/feed-gateway/internal/logging"
	"github.com/ferro-labs/feed-gateway/internal/version"
)

// DefaultPath is the feed endpoint served by feedgw.
const DefaultPath = "/api/instagram"

// HTTPFetcher reads pages from a feedgw server.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPFetcher returns a fetcher for serverURL. A serverURL without a path
// gets DefaultPath appended. A nil client uses a 30 second timeout.
func NewHTTPFetcher(serverURL string, client *http.Client) (*HTTPFetcher, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", serverURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{endpoint: u.String(), client: client}, nil
}

// Fetch requests one page. A null body, which the server sends when it has
// no upstream credential, is returned as an empty page with no cursor.
func (f *HTTPFetcher) Fetch(ctx context.Context, q graph.Query) (*graph.Page, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, err
	}
	params := u.Query()
	params.Set("limit", strconv.Itoa(graph.ClampLimit(q.Limit)))
	if q.After != "" {
		params.Set("after", q.After)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if id := logging.TraceIDFromContext(ctx); id != "" {
		req.Header.Set(logging.TraceHeader, id)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed page: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed endpoint returned status %d", resp.StatusCode)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &graph.Page{Data: []graph.Media{}}, nil
	}
	var page graph.Page
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("decode feed page: %w", err)
	}
	return &page, nil
}

// Drain pages through the feed until it is exhausted or maxPages fetches
// have been issued (maxPages <= 0 means no limit). It returns the number of
// fetches issued and stops at the first failure.
func Drain(ctx context.Context, l *Loader, maxPages int) (int, error) {
	pages := 0
	for maxPages <= 0 || pages < maxPages {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		if !l.State().HasMore {
			break
		}
		if !l.LoadMore(ctx) {
			break
		}
		pages++
		if msg := l.State().Err; msg != "" {
			return pages, fmt.Errorf("load page %d: %s", pages, msg)
		}
	}
	return pages, nil
}
