// Package feed presents a paged media feed as one growing, ordered list.
//
// A Loader owns the accumulated items and the continuation cursor, and keeps
// at most one page request in flight. Fetch failures are recorded in the
// read model and never clear what was already loaded, so calling LoadMore
// again retries from the same cursor.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/ferro-labs/feed-gateway/graph"
)

// Fetcher returns one page of the feed.
type Fetcher interface {
	Fetch(ctx context.Context, q graph.Query) (*graph.Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q graph.Query) (*graph.Page, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, q graph.Query) (*graph.Page, error) {
	return f(ctx, q)
}

// State is the loader's read model.
type State struct {
	Items     []graph.Media `json:"items"`
	IsLoading bool          `json:"is_loading"`
	HasMore   bool          `json:"has_more"`
	// Err is the message of the last failed fetch, cleared on success.
	Err string `json:"error,omitempty"`
}

type phase int

const (
	phaseIdle phase = iota
	phaseFetching
	phaseExhausted
)

// Option configures a Loader.
type Option func(*Loader)

// WithInitialPage seeds the loader with an already fetched first page. A
// page without a continuation cursor leaves the loader exhausted.
func WithInitialPage(page *graph.Page) Option {
	return func(l *Loader) {
		if page == nil {
			return
		}
		l.items = append(l.items, page.Data...)
		l.cursor = page.After()
		l.started = true
		if l.cursor == "" {
			l.phase = phaseExhausted
		}
	}
}

// WithLimit sets the page size requested on every fetch. It is clamped to
// the upstream bounds.
func WithLimit(n int) Option {
	return func(l *Loader) { l.limit = graph.ClampLimit(n) }
}

// WithOnChange registers fn to be called with a fresh State after every
// transition. fn runs on the goroutine that caused the transition.
func WithOnChange(fn func(State)) Option {
	return func(l *Loader) { l.onChange = fn }
}

// Loader accumulates feed pages.
type Loader struct {
	fetcher  Fetcher
	limit    int
	onChange func(State)

	mu      sync.Mutex
	phase   phase
	items   []graph.Media
	cursor  string
	lastErr string
	started bool
	closed  bool

	// done is cancelled by Close to abort the in-flight fetch.
	done   context.Context
	cancel context.CancelFunc
}

// NewLoader creates a Loader backed by fetcher.
func NewLoader(fetcher Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher: fetcher,
		limit:   graph.DefaultLimit,
		phase:   phaseIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.done, l.cancel = context.WithCancel(context.Background())
	return l
}

// Start issues the first fetch for an unseeded loader and reports whether it
// did. Seeded or already started loaders are left alone.
func (l *Loader) Start(ctx context.Context) bool {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		return false
	}
	return l.LoadMore(ctx)
}

// LoadMore fetches the next page and blocks until it is applied. It is a
// no-op returning false while another fetch is in flight, once the feed is
// exhausted, or after Close. It returns true when a fetch was issued,
// whether or not it succeeded; the outcome is visible through State.
func (l *Loader) LoadMore(ctx context.Context) bool {
	l.mu.Lock()
	if l.closed || l.phase != phaseIdle {
		l.mu.Unlock()
		return false
	}
	l.phase = phaseFetching
	l.started = true
	q := graph.Query{Limit: l.limit, After: l.cursor}
	snapshot := l.stateLocked()
	l.mu.Unlock()
	l.notify(snapshot)

	fetchCtx, stop := context.WithCancel(ctx)
	unlink := context.AfterFunc(l.done, stop)
	page, err := l.fetcher.Fetch(fetchCtx, q)
	unlink()
	stop()

	l.mu.Lock()
	if l.closed {
		l.phase = phaseIdle
		l.mu.Unlock()
		return true
	}
	switch {
	case err != nil:
		l.lastErr = err.Error()
		l.phase = phaseIdle
	case page == nil:
		l.lastErr = errEmptyPage.Error()
		l.phase = phaseIdle
	default:
		l.items = append(l.items, page.Data...)
		l.cursor = page.After()
		l.lastErr = ""
		if l.cursor == "" {
			l.phase = phaseExhausted
		} else {
			l.phase = phaseIdle
		}
	}
	snapshot = l.stateLocked()
	l.mu.Unlock()
	l.notify(snapshot)
	return true
}

var errEmptyPage = errors.New("feed: fetcher returned no page")

// State returns a snapshot of the read model. Items is a copy.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

// Cursor returns the continuation cursor the next fetch will use.
func (l *Loader) Cursor() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Close disposes the loader. An in-flight fetch is cancelled and its result
// discarded; later LoadMore calls do nothing.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
}

func (l *Loader) stateLocked() State {
	items := make([]graph.Media, len(l.items))
	copy(items, l.items)
	return State{
		Items:     items,
		IsLoading: l.phase == phaseFetching,
		HasMore:   l.phase != phaseExhausted,
		Err:       l.lastErr,
	}
}

func (l *Loader) notify(s State) {
	if l.onChange != nil {
		l.onChange(s)
	}
}
