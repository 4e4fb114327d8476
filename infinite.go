package querycache

import (
	"context"
	"reflect"
)

// InfiniteData is the stored value of a paginated entry: an ordered,
// index-aligned sequence of pages and the parameters they were fetched with.
// The entry itself is unaware it holds multiple pages; pagination is an
// observer-level interpretation plus a fetch-behavior override.
type InfiniteData struct {
	Pages      []any `json:"pages" msgpack:"pages" cbor:"pages"`
	PageParams []any `json:"pageParams" msgpack:"pageParams" cbor:"pageParams"`
}

type fetchDirection int

const (
	directionRefetch fetchDirection = iota
	directionNext
	directionPrev
)

// InfiniteObserver generalizes an Observer's single value into an
// InfiniteData sequence and coordinates multi-page fetch and refetch. The
// page-sequencing algorithm runs inside the entry's fetch pipeline (as the
// retryer's unit of work) and writes its result back through the entry's
// single completion path, so entry and registry never see the per-page calls.
type InfiniteObserver struct {
	*Observer
}

// NewInfiniteObserver validates the pagination options and binds the
// fetch-behavior override.
func NewInfiniteObserver(c *Client, opts QueryOptions) (*InfiniteObserver, error) {
	if err := opts.validateInfinite(); err != nil {
		return nil, err
	}
	o := newObserver(c, opts)
	io := &InfiniteObserver{Observer: o}
	o.extendResult = io.extendResult
	o.behavior = io.behaviorFunc(directionRefetch)
	return io, nil
}

// FetchNextPage fetches one page forward and appends it. No-op (immediately
// resolved, no state change) when a forward fetch is already in flight or the
// continuation function reports no further page.
func (io *InfiniteObserver) FetchNextPage(ctx context.Context) (Result, error) {
	io.mu.Lock()
	if io.pendingNext {
		io.mu.Unlock()
		return io.Result(), nil
	}
	cur := asInfiniteData(io.entry.snapshot().Data)
	if len(cur.Pages) > 0 && paramIsNil(io.nextParam(cur)) {
		io.mu.Unlock()
		return io.Result(), nil
	}
	io.pendingNext = true
	io.mu.Unlock()

	return io.fetchDirection(ctx, directionNext, &io.pendingNext)
}

// FetchPreviousPage is symmetric over the first page: fetches one page
// backward and prepends it.
func (io *InfiniteObserver) FetchPreviousPage(ctx context.Context) (Result, error) {
	io.mu.Lock()
	if io.pendingPrev || io.opts.GetPreviousPageParam == nil {
		io.mu.Unlock()
		return io.Result(), nil
	}
	cur := asInfiniteData(io.entry.snapshot().Data)
	if len(cur.Pages) > 0 && paramIsNil(io.prevParam(cur)) {
		io.mu.Unlock()
		return io.Result(), nil
	}
	io.pendingPrev = true
	io.mu.Unlock()

	return io.fetchDirection(ctx, directionPrev, &io.pendingPrev)
}

func (io *InfiniteObserver) fetchDirection(ctx context.Context, dir fetchDirection, pending *bool) (Result, error) {
	cfg := io.fetchConfig(true)
	cfg.behavior = io.behaviorFunc(dir)
	fut := io.ent().fetch(cfg)
	_, err := fut.wait(ctx)

	io.mu.Lock()
	*pending = false
	io.mu.Unlock()
	io.onEntryUpdate()
	return io.Result(), err
}

// extendResult fills the pagination fields of a Result. The continuation
// functions are invoked against the current sequences on every recomputation
// without fetching; they must be pure. An empty stored sequence short-circuits
// both to false without invoking either function. Runs under o.mu.
func (io *InfiniteObserver) extendResult(r *Result, s EntryState) {
	d := asInfiniteData(s.Data)
	r.HasNextPage = !paramIsNil(io.nextParam(d))
	r.HasPreviousPage = !paramIsNil(io.prevParam(d))
	r.IsFetchingNextPage = io.pendingNext
	r.IsFetchingPreviousPage = io.pendingPrev
}

// nextParam evaluates the forward continuation against the current, up-to-date
// sequences. nil when the sequence is empty or the continuation declines.
func (io *InfiniteObserver) nextParam(d InfiniteData) any {
	if len(d.Pages) == 0 {
		return nil
	}
	last := len(d.Pages) - 1
	return io.opts.GetNextPageParam(d.Pages[last], d.Pages, d.PageParams[last], d.PageParams)
}

func (io *InfiniteObserver) prevParam(d InfiniteData) any {
	if io.opts.GetPreviousPageParam == nil || len(d.Pages) == 0 {
		return nil
	}
	return io.opts.GetPreviousPageParam(d.Pages[0], d.Pages, d.PageParams[0], d.PageParams)
}

// behaviorFunc returns the unit of work the retryer drives for one logical
// fetch in the given direction. The current sequences are re-read (and the
// continuation re-evaluated) inside the attempt, so retries always act on
// fresh state rather than a stale snapshot.
func (io *InfiniteObserver) behaviorFunc(dir fetchDirection) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		cur := asInfiniteData(io.ent().snapshot().Data)
		switch dir {
		case directionNext:
			if len(cur.Pages) == 0 {
				return io.fetchFirst(ctx)
			}
			param := io.nextParam(cur)
			if paramIsNil(param) {
				return cur, nil
			}
			page, err := io.fetchPage(ctx, param)
			if err != nil {
				return nil, err
			}
			pages := append(append([]any{}, cur.Pages...), page)
			params := append(append([]any{}, cur.PageParams...), param)
			if max := io.opts.MaxPages; max > 0 && len(pages) > max {
				pages, params = pages[len(pages)-max:], params[len(params)-max:]
			}
			return InfiniteData{Pages: pages, PageParams: params}, nil

		case directionPrev:
			if len(cur.Pages) == 0 {
				return io.fetchFirst(ctx)
			}
			param := io.prevParam(cur)
			if paramIsNil(param) {
				return cur, nil
			}
			page, err := io.fetchPage(ctx, param)
			if err != nil {
				return nil, err
			}
			pages := append([]any{page}, cur.Pages...)
			params := append([]any{param}, cur.PageParams...)
			if max := io.opts.MaxPages; max > 0 && len(pages) > max {
				pages, params = pages[:max], params[:max]
			}
			return InfiniteData{Pages: pages, PageParams: params}, nil

		default: // full refetch: rebuild the sequence from scratch
			return io.refetchPages(ctx, cur)
		}
	}
}

// refetchPages rebuilds the whole sequence rather than re-fetching held pages
// verbatim, because a later page's parameter can depend on an earlier page's
// freshly fetched content. The walk anchors at the earliest held page's
// parameter and advances with GetNextPageParam against the results
// accumulated in this refetch, once per previously held page, stopping early
// (and discarding the remainder) when a continuation declines.
func (io *InfiniteObserver) refetchPages(ctx context.Context, cur InfiniteData) (any, error) {
	if len(cur.Pages) == 0 {
		return io.fetchFirst(ctx)
	}
	count := len(cur.Pages)
	pages := make([]any, 0, count)
	params := make([]any, 0, count)
	param := cur.PageParams[0]
	for i := 0; i < count; i++ {
		if i > 0 {
			last := len(pages) - 1
			param = io.opts.GetNextPageParam(pages[last], pages, params[last], params)
			if paramIsNil(param) {
				break
			}
		}
		page, err := io.fetchPage(ctx, param)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		params = append(params, param)
	}
	return InfiniteData{Pages: pages, PageParams: params}, nil
}

func (io *InfiniteObserver) fetchFirst(ctx context.Context) (any, error) {
	param := io.opts.InitialPageParam
	page, err := io.fetchPage(ctx, param)
	if err != nil {
		return nil, err
	}
	return InfiniteData{Pages: []any{page}, PageParams: []any{param}}, nil
}

func (io *InfiniteObserver) fetchPage(ctx context.Context, param any) (any, error) {
	return io.opts.Fetch(ctx, FetchContext{Key: io.opts.Key, PageParam: param, Meta: io.opts.Meta})
}

// asInfiniteData interprets an entry's stored data as a page sequence. Any
// other shape (including nil) reads as empty.
func asInfiniteData(d any) InfiniteData {
	switch v := d.(type) {
	case InfiniteData:
		return v
	case *InfiniteData:
		if v != nil {
			return *v
		}
	}
	return InfiniteData{}
}

// paramIsNil treats untyped nil and typed nil pointers alike as "no page".
func paramIsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
