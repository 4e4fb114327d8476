package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// pageFetch resolves each page to a string derived from its parameter.
func pageFetch(_ context.Context, fc FetchContext) (any, error) {
	return fmt.Sprintf("page-%v", fc.PageParam), nil
}

// nextUpTo advances the page parameter by one until limit, then stops.
func nextUpTo(limit int) PageParamFunc {
	return func(_ any, _ []any, param any, _ []any) any {
		p := param.(int)
		if p >= limit {
			return nil
		}
		return p + 1
	}
}

func prevDownTo(limit int) PageParamFunc {
	return func(_ any, _ []any, param any, _ []any) any {
		p := param.(int)
		if p <= limit {
			return nil
		}
		return p - 1
	}
}

func pagesOf(r Result) InfiniteData { return asInfiniteData(r.Data) }

func wantPages(t *testing.T, r Result, pages []any, params []any) {
	t.Helper()
	d := pagesOf(r)
	if len(d.Pages) != len(pages) || len(d.PageParams) != len(params) {
		t.Fatalf("sequence = %v/%v, want %v/%v", d.Pages, d.PageParams, pages, params)
	}
	for i := range pages {
		if d.Pages[i] != pages[i] || d.PageParams[i] != params[i] {
			t.Fatalf("sequence = %v/%v, want %v/%v", d.Pages, d.PageParams, pages, params)
		}
	}
}

func newInfinite(t *testing.T, c *Client, opts QueryOptions) *InfiniteObserver {
	t.Helper()
	io, err := NewInfiniteObserver(c, opts)
	if err != nil {
		t.Fatalf("NewInfiniteObserver: %v", err)
	}
	return io
}

// ==============================
// Growth
// ==============================

// TestInfiniteFirstPageAndNext verifies the first fetch uses the initial
// parameter and FetchNextPage appends one page.
func TestInfiniteFirstPageAndNext(t *testing.T) {
	c := newTestClient(t, nil)
	cf := newCountingFetch(pageFetch)
	io := newInfinite(t, c, QueryOptions{
		Key:              Key{"inf"},
		Fetch:            cf.Fetch,
		InitialPageParam: 1,
		GetNextPageParam: nextUpTo(10),
		StaleTime:        StaleForever,
	})

	res, err := io.Refetch(context.Background())
	if err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	wantPages(t, res, []any{"page-1"}, []any{1})
	if !res.HasNextPage {
		t.Fatalf("HasNextPage = false with continuation available")
	}

	res, err = io.FetchNextPage(context.Background())
	if err != nil {
		t.Fatalf("FetchNextPage: %v", err)
	}
	wantPages(t, res, []any{"page-1", "page-2"}, []any{1, 2})
	if cf.Calls() != 2 {
		t.Fatalf("fetch calls = %d, want 2", cf.Calls())
	}
}

// TestInfiniteExhaustedContinuation verifies a declining continuation flips
// HasNextPage off and makes further FetchNextPage calls no-ops.
func TestInfiniteExhaustedContinuation(t *testing.T) {
	c := newTestClient(t, nil)
	cf := newCountingFetch(pageFetch)
	io := newInfinite(t, c, QueryOptions{
		Key:              Key{"inf"},
		Fetch:            cf.Fetch,
		InitialPageParam: 1,
		GetNextPageParam: nextUpTo(2),
		StaleTime:        StaleForever,
	})

	ctx := context.Background()
	if _, err := io.Refetch(ctx); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	res, err := io.FetchNextPage(ctx)
	if err != nil {
		t.Fatalf("FetchNextPage: %v", err)
	}
	wantPages(t, res, []any{"page-1", "page-2"}, []any{1, 2})
	if res.HasNextPage {
		t.Fatalf("HasNextPage = true past the last page")
	}

	before := cf.Calls()
	if _, err := io.FetchNextPage(ctx); err != nil {
		t.Fatalf("no-op FetchNextPage: %v", err)
	}
	if cf.Calls() != before {
		t.Fatalf("exhausted FetchNextPage still fetched")
	}
}

// TestInfinitePreviousPagePrepends verifies backward growth over the first
// page.
func TestInfinitePreviousPagePrepends(t *testing.T) {
	c := newTestClient(t, nil)
	io := newInfinite(t, c, QueryOptions{
		Key:                  Key{"inf"},
		Fetch:                pageFetch,
		InitialPageParam:     5,
		GetNextPageParam:     nextUpTo(10),
		GetPreviousPageParam: prevDownTo(1),
		StaleTime:            StaleForever,
	})

	ctx := context.Background()
	if _, err := io.Refetch(ctx); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	res, err := io.FetchPreviousPage(ctx)
	if err != nil {
		t.Fatalf("FetchPreviousPage: %v", err)
	}
	wantPages(t, res, []any{"page-4", "page-5"}, []any{4, 5})
	if !res.HasPreviousPage {
		t.Fatalf("HasPreviousPage = false with earlier pages available")
	}
}

// TestInfiniteNextPageIdempotent verifies a forward fetch already in flight
// absorbs further FetchNextPage calls.
func TestInfiniteNextPageIdempotent(t *testing.T) {
	c := newTestClient(t, nil)
	release := make(chan struct{})
	cf := newCountingFetch(gatedFetch(release, "page"))
	io := newInfinite(t, c, QueryOptions{
		Key:              Key{"inf"},
		Fetch:            cf.Fetch,
		InitialPageParam: 1,
		GetNextPageParam: nextUpTo(10),
		StaleTime:        StaleForever,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := io.FetchNextPage(context.Background()); err != nil {
			t.Errorf("FetchNextPage: %v", err)
		}
	}()
	waitFor(t, time.Second, "first page fetch started", func() bool { return cf.Calls() == 1 })

	// in flight: this call must resolve immediately without fetching
	if _, err := io.FetchNextPage(context.Background()); err != nil {
		t.Fatalf("concurrent FetchNextPage: %v", err)
	}
	close(release)
	<-done

	if cf.Calls() != 1 {
		t.Fatalf("fetch calls = %d, want 1", cf.Calls())
	}
}

// ==============================
// Refetch
// ==============================

// TestInfiniteRefetchRebuildsSequence verifies a full refetch walks the held
// page count forward from the earliest parameter and lands on the same shape.
func TestInfiniteRefetchRebuildsSequence(t *testing.T) {
	c := newTestClient(t, nil)
	cf := newCountingFetch(pageFetch)
	io := newInfinite(t, c, QueryOptions{
		Key:              Key{"inf"},
		Fetch:            cf.Fetch,
		InitialPageParam: 1,
		GetNextPageParam: nextUpTo(10),
		StaleTime:        StaleForever,
	})

	ctx := context.Background()
	if _, err := io.Refetch(ctx); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := io.FetchNextPage(ctx); err != nil {
			t.Fatalf("FetchNextPage: %v", err)
		}
	}
	if cf.Calls() != 3 {
		t.Fatalf("setup fetch calls = %d, want 3", cf.Calls())
	}

	res, err := io.Refetch(ctx)
	if err != nil {
		t.Fatalf("full refetch: %v", err)
	}
	wantPages(t, res, []any{"page-1", "page-2", "page-3"}, []any{1, 2, 3})
	if cf.Calls() != 6 {
		t.Fatalf("refetch calls = %d, want one per held page (3 more)", cf.Calls()-3)
	}
}

// TestInfiniteRefetchStopsEarly verifies a refetch discards pages past a
// continuation that now declines.
func TestInfiniteRefetchStopsEarly(t *testing.T) {
	c := newTestClient(t, nil)
	var limit atomic.Int32
	limit.Store(10)
	next := func(_ any, _ []any, param any, _ []any) any {
		p := param.(int)
		if p >= int(limit.Load()) {
			return nil
		}
		return p + 1
	}
	io := newInfinite(t, c, QueryOptions{
		Key:              Key{"inf"},
		Fetch:            pageFetch,
		InitialPageParam: 1,
		GetNextPageParam: next,
		StaleTime:        StaleForever,
	})

	ctx := context.Background()
	if _, err := io.Refetch(ctx); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := io.FetchNextPage(ctx); err != nil {
			t.Fatalf("FetchNextPage: %v", err)
		}
	}

	// the dataset shrank: only one page remains reachable
	limit.Store(1)
	res, err := io.Refetch(ctx)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	wantPages(t, res, []any{"page-1"}, []any{1})
}

// ==============================
// Bounds
// ==============================

// TestInfiniteMaxPagesTrims verifies forward growth beyond MaxPages drops the
// oldest page.
func TestInfiniteMaxPagesTrims(t *testing.T) {
	c := newTestClient(t, nil)
	io := newInfinite(t, c, QueryOptions{
		Key:              Key{"inf"},
		Fetch:            pageFetch,
		InitialPageParam: 1,
		GetNextPageParam: nextUpTo(10),
		MaxPages:         2,
		StaleTime:        StaleForever,
	})

	ctx := context.Background()
	if _, err := io.Refetch(ctx); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := io.FetchNextPage(ctx); err != nil {
			t.Fatalf("FetchNextPage: %v", err)
		}
	}
	wantPages(t, io.Result(), []any{"page-2", "page-3"}, []any{2, 3})
}

// TestInfiniteEmptyNeverConsultsContinuations verifies an empty sequence
// reports no pages in either direction without invoking either continuation.
func TestInfiniteEmptyNeverConsultsContinuations(t *testing.T) {
	c := newTestClient(t, nil)
	var consulted atomic.Int32
	cont := func(_ any, _ []any, param any, _ []any) any {
		consulted.Add(1)
		return nil
	}
	io := newInfinite(t, c, QueryOptions{
		Key:                  Key{"inf"},
		Fetch:                pageFetch,
		InitialPageParam:     1,
		GetNextPageParam:     cont,
		GetPreviousPageParam: cont,
		StaleTime:            StaleForever,
	})

	res := io.Result()
	if res.HasNextPage || res.HasPreviousPage {
		t.Fatalf("empty sequence reported pages: %+v", res)
	}
	if consulted.Load() != 0 {
		t.Fatalf("continuations consulted %d times on empty data", consulted.Load())
	}
}

// TestInfiniteFailedPagePreservesData verifies a failing page fetch surfaces
// the error while held pages stay intact.
func TestInfiniteFailedPagePreservesData(t *testing.T) {
	c := newTestClient(t, nil)
	boom := errors.New("page unavailable")
	var fail atomic.Bool
	fetch := func(ctx context.Context, fc FetchContext) (any, error) {
		if fail.Load() {
			return nil, boom
		}
		return pageFetch(ctx, fc)
	}
	io := newInfinite(t, c, QueryOptions{
		Key:              Key{"inf"},
		Fetch:            fetch,
		InitialPageParam: 1,
		GetNextPageParam: nextUpTo(10),
		Retry:            noRetry(),
		StaleTime:        StaleForever,
	})

	ctx := context.Background()
	if _, err := io.Refetch(ctx); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	fail.Store(true)
	res, err := io.FetchNextPage(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if res.Status != StatusError {
		t.Fatalf("status = %v, want error", res.Status)
	}
	wantPages(t, res, []any{"page-1"}, []any{1})
}

// ==============================
// Validation
// ==============================

func TestInfiniteValidation(t *testing.T) {
	c := newTestClient(t, nil)
	if _, err := NewInfiniteObserver(c, QueryOptions{
		Key:              Key{"k"},
		Fetch:            pageFetch,
		InitialPageParam: 1,
	}); err == nil {
		t.Fatalf("missing forward continuation accepted")
	}
	if _, err := NewInfiniteObserver(c, QueryOptions{
		Key:              Key{"k"},
		Fetch:            pageFetch,
		GetNextPageParam: nextUpTo(2),
	}); err == nil {
		t.Fatalf("missing initial page param accepted")
	}
}
