package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferro-labs/feed-gateway/graph"
)

type response struct {
	page *graph.Page
	err  error
}

// scriptedFetcher returns responses in order and records every query.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []response
	queries   []graph.Query
	calls     int32
	started   chan struct{}
	release   chan struct{}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, q graph.Query) (*graph.Page, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.queries = append(f.queries, q)
	var r response
	if len(f.responses) > 0 {
		r = f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.page, r.err
}

func (f *scriptedFetcher) count() int { return int(atomic.LoadInt32(&f.calls)) }

func page(cursor string, ids ...string) *graph.Page {
	p := &graph.Page{Data: make([]graph.Media, 0, len(ids))}
	for _, id := range ids {
		p.Data = append(p.Data, graph.Media{ID: id})
	}
	if cursor != "" {
		p.Paging = &graph.Paging{Cursors: &graph.Cursors{After: cursor}}
	}
	return p
}

func ids(items []graph.Media) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}

func equalIDs(got []graph.Media, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestLoader_SeededScenario(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{page: page("", "b")}}}
	l := NewLoader(f, WithInitialPage(page("p2", "a")))

	if !l.LoadMore(context.Background()) {
		t.Fatal("expected a fetch to be issued")
	}
	st := l.State()
	if !equalIDs(st.Items, "a", "b") {
		t.Errorf("expected items [a b], got %v", ids(st.Items))
	}
	if st.HasMore {
		t.Error("expected hasMore=false")
	}
	if f.queries[0].After != "p2" {
		t.Errorf("expected fetch with cursor p2, got %q", f.queries[0].After)
	}
}

func TestLoader_OrderedAccumulation(t *testing.T) {
	f := &scriptedFetcher{responses: []response{
		{page: page("c1", "1", "2", "3")},
		{page: page("c2", "4", "5")},
	}}
	l := NewLoader(f)
	ctx := context.Background()

	l.LoadMore(ctx)
	l.LoadMore(ctx)

	st := l.State()
	if !equalIDs(st.Items, "1", "2", "3", "4", "5") {
		t.Errorf("expected [1 2 3 4 5], got %v", ids(st.Items))
	}
	if !st.HasMore || l.Cursor() != "c2" {
		t.Errorf("expected more after c2, got hasMore=%v cursor=%q", st.HasMore, l.Cursor())
	}
	if f.queries[0].After != "" || f.queries[1].After != "c1" {
		t.Errorf("unexpected cursors: %+v", f.queries)
	}
}

func TestLoader_ExhaustionHaltsPagination(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{page: page("", "1")}}}
	l := NewLoader(f)
	ctx := context.Background()

	l.LoadMore(ctx)
	if l.State().HasMore {
		t.Fatal("expected exhausted loader")
	}
	for i := 0; i < 3; i++ {
		if l.LoadMore(ctx) {
			t.Fatal("expected LoadMore to be a no-op once exhausted")
		}
	}
	if f.count() != 1 {
		t.Errorf("expected 1 fetch, got %d", f.count())
	}
}

func TestLoader_SeededWithoutCursorIsExhausted(t *testing.T) {
	f := &scriptedFetcher{}
	l := NewLoader(f, WithInitialPage(page("", "a")))

	if l.LoadMore(context.Background()) || l.Start(context.Background()) {
		t.Fatal("expected no fetch for an exhausted seed")
	}
	if f.count() != 0 {
		t.Errorf("expected 0 fetches, got %d", f.count())
	}
}

func TestLoader_FailurePreservesRetry(t *testing.T) {
	f := &scriptedFetcher{responses: []response{
		{err: errors.New("feed endpoint returned status 500")},
		{page: page("c2", "4")},
	}}
	l := NewLoader(f, WithInitialPage(page("c1", "1", "2", "3")))
	ctx := context.Background()

	l.LoadMore(ctx)
	st := l.State()
	if !equalIDs(st.Items, "1", "2", "3") {
		t.Errorf("failure mutated items: %v", ids(st.Items))
	}
	if l.Cursor() != "c1" {
		t.Errorf("failure mutated cursor: %q", l.Cursor())
	}
	if st.Err != "feed endpoint returned status 500" {
		t.Errorf("unexpected error message %q", st.Err)
	}
	if st.IsLoading || !st.HasMore {
		t.Errorf("expected idle loader with more pages, got %+v", st)
	}

	if !l.LoadMore(ctx) {
		t.Fatal("expected retry to issue a fetch")
	}
	st = l.State()
	if !equalIDs(st.Items, "1", "2", "3", "4") || st.Err != "" {
		t.Errorf("unexpected state after retry: %+v", st)
	}
	if f.queries[1].After != "c1" {
		t.Errorf("expected retry with cursor c1, got %q", f.queries[1].After)
	}
}

func TestLoader_AtMostOneInFlight(t *testing.T) {
	f := &scriptedFetcher{
		responses: []response{{page: page("c1", "1")}},
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	l := NewLoader(f)
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- l.LoadMore(ctx) }()
	<-f.started

	if !l.State().IsLoading {
		t.Error("expected isLoading while fetching")
	}
	if l.LoadMore(ctx) {
		t.Error("expected second LoadMore to be a no-op")
	}
	close(f.release)
	if !<-done {
		t.Error("expected first LoadMore to report a fetch")
	}
	if f.count() != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", f.count())
	}
	if l.State().IsLoading {
		t.Error("expected idle after completion")
	}
}

func TestLoader_CloseDiscardsInFlight(t *testing.T) {
	f := &scriptedFetcher{
		responses: []response{{page: page("c1", "1")}},
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	l := NewLoader(f)

	done := make(chan struct{})
	go func() {
		l.LoadMore(context.Background())
		close(done)
	}()
	<-f.started
	l.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not cancel the in-flight fetch")
	}
	st := l.State()
	if len(st.Items) != 0 || st.Err != "" {
		t.Errorf("expected discarded result, got %+v", st)
	}
	if st.IsLoading {
		t.Error("expected closed loader not to report loading")
	}
	if l.LoadMore(context.Background()) {
		t.Error("expected LoadMore after Close to be a no-op")
	}
}

func TestLoader_StartOnlyOnce(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{page: page("c1", "1")}}}
	l := NewLoader(f, WithLimit(500))
	ctx := context.Background()

	if !l.Start(ctx) {
		t.Fatal("expected Start to issue the first fetch")
	}
	if l.Start(ctx) {
		t.Fatal("expected second Start to do nothing")
	}
	if f.queries[0].Limit != graph.MaxLimit {
		t.Errorf("expected clamped limit %d, got %d", graph.MaxLimit, f.queries[0].Limit)
	}
}

func TestLoader_OnChange(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{page: page("", "1")}}}
	var states []State
	l := NewLoader(f, WithOnChange(func(s State) { states = append(states, s) }))

	l.LoadMore(context.Background())
	if len(states) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(states))
	}
	if !states[0].IsLoading || states[1].IsLoading {
		t.Errorf("unexpected loading flags: %+v", states)
	}
	if states[1].HasMore || len(states[1].Items) != 1 {
		t.Errorf("unexpected final state: %+v", states[1])
	}
}

func TestLoader_StateItemsAreCopies(t *testing.T) {
	l := NewLoader(&scriptedFetcher{}, WithInitialPage(page("c1", "a")))
	st := l.State()
	st.Items[0].ID = "mutated"
	if l.State().Items[0].ID != "a" {
		t.Error("State exposed the loader's internal slice")
	}
}

func TestLoader_NilPageIsFailure(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{}}}
	l := NewLoader(f)

	l.LoadMore(context.Background())
	st := l.State()
	if st.Err == "" || !st.HasMore {
		t.Errorf("expected retryable failure, got %+v", st)
	}
}
