package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ferro-labs/feed-gateway/internal/version"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the root of the upstream graph API.
const DefaultBaseURL = "https://graph.instagram.com"

// ErrNoToken is returned when the token source yields an empty access token.
var ErrNoToken = errors.New("graph: no access token")

// StatusError is returned when the upstream answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("graph: upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph: upstream returned status %d: %s", e.StatusCode, e.Body)
}

// IsUpstreamFault reports whether err says the upstream itself is unhealthy:
// a transport failure, a 5xx or a 429. Other 4xx answers blame the request,
// such as an unknown cursor, and a missing token is a local setup problem.
func IsUpstreamFault(err error) bool {
	if err == nil || errors.Is(err, ErrNoToken) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Options configures a Client.
type Options struct {
	// BaseURL overrides DefaultBaseURL (no trailing slash needed).
	BaseURL string
	// Version is an optional API version path segment, e.g. "v21.0".
	Version string
	// UserID is the account whose media edge is read. Defaults to "me".
	UserID string
	// Fields overrides DefaultFields.
	Fields []string
	// TokenSource supplies the access token for every request.
	TokenSource oauth2.TokenSource
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil. Defaults to 10s.
	Timeout time.Duration
}

// Client reads pages of the media edge.
type Client struct {
	baseURL string
	version string
	userID  string
	fields  string
	tokens  oauth2.TokenSource
	http    *http.Client
}

// StaticToken wraps a long-lived access token in a reusable token source.
func StaticToken(accessToken string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
}

// NewClient creates a Client. A token source is required.
func NewClient(opts Options) (*Client, error) {
	if opts.TokenSource == nil {
		return nil, fmt.Errorf("graph: token source is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("graph: invalid base url %q: %w", base, err)
	}
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		userID = "me"
	}
	fields := opts.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		version: strings.Trim(opts.Version, "/"),
		userID:  userID,
		fields:  strings.Join(fields, ","),
		tokens:  opts.TokenSource,
		http:    hc,
	}, nil
}

// BaseURL returns the resolved upstream root.
func (c *Client) BaseURL() string { return c.baseURL }

// Fetch reads one page of media. The limit is clamped to [MinLimit, MaxLimit].
func (c *Client) Fetch(ctx context.Context, q Query) (*Page, error) {
	q = q.Normalize()

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("graph: resolve access token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrNoToken
	}

	params := url.Values{}
	params.Set("fields", c.fields)
	params.Set("access_token", tok.AccessToken)
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.After != "" {
		params.Set("after", q.After)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mediaURL()+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("graph: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: request media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("graph: decode media page: %w", err)
	}
	if page.Data == nil {
		page.Data = []Media{}
	}
	return &page, nil
}

func (c *Client) mediaURL() string {
	parts := []string{c.baseURL}
	if c.version != "" {
		parts = append(parts, c.version)
	}
	parts = append(parts, url.PathEscape(c.userID), "media")
	return strings.Join(parts, "/")
}
