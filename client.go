package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/querycache/keycodec"
)

// Client is the registry: the sole owner of entries, keyed by identity.
// Observers hold references into it, never private copies of entry data.
type Client struct {
	log    Logger
	hooks  Hooks
	online OnlineMonitor
	focus  FocusMonitor

	gcTime    time.Duration
	staleTime time.Duration
	retry     RetryPolicy
	nowFn     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func newClient(opts Options) (*Client, error) {
	c := &Client{
		entries:   make(map[string]*entry),
		staleTime: opts.DefaultStaleTime,
		retry:     opts.DefaultRetry,
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.gcTime = coalesce[time.Duration](opts.DefaultGCTime, defaultGCTime)
	if opts.Online != nil {
		c.online = opts.Online
	} else {
		c.online = alwaysOnline{}
	}
	if opts.Focus != nil {
		c.focus = opts.Focus
	} else {
		c.focus = alwaysFocused{}
	}
	if opts.Now != nil {
		c.nowFn = opts.Now
	} else {
		c.nowFn = time.Now
	}
	return c, nil
}

func (c *Client) now() time.Time { return c.nowFn() }

// getOrCreate returns the entry for key's identity, constructing it on first
// reference. One entry instance per identity, shared by all observers.
func (c *Client) getOrCreate(key Key, opts *QueryOptions) *entry {
	identity := keycodec.Identity(key)
	c.mu.Lock()
	e, ok := c.entries[identity]
	if !ok {
		e = &entry{
			client:   c,
			identity: identity,
			key:      append(Key(nil), key...),
			gcTime:   c.gcTime,
			state:    EntryState{Status: StatusPending, FetchStatus: FetchIdle},
		}
		if opts != nil {
			if opts.GCTime > 0 {
				e.gcTime = opts.GCTime
			}
			if opts.InitialData != nil {
				at := opts.InitialDataUpdatedAt
				if at.IsZero() {
					at = c.now()
				}
				e.applyDataLocked(opts.InitialData, at)
			}
		}
		c.entries[identity] = e
		e.scheduleGCLocked()
		c.mu.Unlock()
		c.hooks.EntryAdded(identity)
		c.log.Debug("entry created", Fields{"identity": identity})
		return e
	}
	if opts != nil && opts.GCTime > e.gcTime {
		e.gcTime = opts.GCTime
	}
	c.mu.Unlock()
	return e
}

// subscribe attaches an observer to an entry and clears any pending GC. The
// entry bound at construction may have been evicted before the first
// subscriber arrived; in that case the observer attaches to the current live
// entry for the identity, reviving the evicted one only when no replacement
// exists. Returns the entry actually attached, for the caller to re-bind.
func (c *Client) subscribe(e *entry, o *Observer) *entry {
	c.mu.Lock()
	if e.removed {
		if cur, ok := c.entries[e.identity]; ok {
			e = cur
		} else {
			e.removed = false
			c.entries[e.identity] = e
		}
	}
	e.clearGCLocked()
	e.observers = append(e.observers, o)
	c.mu.Unlock()
	return e
}

// unsubscribe detaches an observer; GC is armed once the set becomes empty.
func (c *Client) unsubscribe(e *entry, o *Observer) {
	c.mu.Lock()
	for i, cur := range e.observers {
		if cur == o {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			break
		}
	}
	e.scheduleGCLocked()
	c.mu.Unlock()
}

// maybeRemove evicts an entry whose GC deadline elapsed, unless an observer
// re-attached or a fetch started in the meantime.
func (c *Client) maybeRemove(e *entry) {
	c.mu.Lock()
	if e.removed || len(e.observers) > 0 || e.retryer != nil {
		c.mu.Unlock()
		return
	}
	e.removed = true
	e.clearGCLocked()
	delete(c.entries, e.identity)
	c.mu.Unlock()
	c.hooks.EntryRemoved(e.identity)
	c.log.Debug("entry evicted", Fields{"identity": e.identity})
}

// GetQueryData returns the stored data for key, if any.
func (c *Client) GetQueryData(key Key) (any, bool) {
	identity := keycodec.Identity(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identity]
	if !ok || e.state.Status != StatusSuccess {
		return nil, false
	}
	return e.state.Data, true
}

// SetQueryData writes value for key, bypassing fetch: an immediate success
// transition, delivered to subscribers like a real completion. For paginated
// entries an empty-pages InfiniteData is the supported way to clear without
// invoking continuation functions.
func (c *Client) SetQueryData(key Key, value any) {
	e := c.getOrCreate(key, nil)
	e.setData(value, c.now())
}

// UpdateQueryData applies fn to the current data (nil when absent) and stores
// the result. Returning nil leaves the entry untouched.
func (c *Client) UpdateQueryData(key Key, fn func(old any) any) {
	old, _ := c.GetQueryData(key)
	next := fn(old)
	if next == nil {
		return
	}
	c.SetQueryData(key, next)
}

// InvalidateQueries marks every entry whose key begins with key as stale and
// refetches the ones with active observers. An empty key matches everything.
func (c *Client) InvalidateQueries(key Key) {
	for _, e := range c.match(key) {
		e.invalidate()
		for _, o := range c.entryObservers(e) {
			o.refetchIfActive()
		}
	}
}

// CancelQueries aborts in-flight fetches for matching entries. Data and
// errors already stored are left unchanged.
func (c *Client) CancelQueries(key Key) {
	for _, e := range c.match(key) {
		e.cancel(true)
	}
}

// RemoveQueries drops matching entries immediately, regardless of observers.
func (c *Client) RemoveQueries(key Key) {
	for _, e := range c.match(key) {
		c.mu.Lock()
		e.removed = true
		e.clearGCLocked()
		delete(c.entries, e.identity)
		c.mu.Unlock()
		e.cancel(false)
		c.hooks.EntryRemoved(e.identity)
	}
}

// Clear removes every entry.
func (c *Client) Clear() { c.RemoveQueries(nil) }

// FetchQuery imperatively resolves data for opts: returns cached data when it
// is fresh by opts' staleness policy, otherwise fetches (attaching to any
// in-flight fetch for the same identity).
func (c *Client) FetchQuery(ctx context.Context, opts QueryOptions) (any, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults(c)
	e := c.getOrCreate(opts.Key, &opts)

	s := e.snapshot()
	if s.Status == StatusSuccess && !isStale(s, opts.StaleTime, c.now()) {
		return s.Data, nil
	}
	fut := e.fetch(fetchConfig{fetch: opts.Fetch, meta: opts.Meta, retry: opts.Retry})
	return fut.wait(ctx)
}

// PrefetchQuery is FetchQuery for warming: the outcome (and any error) is
// intentionally dropped.
func (c *Client) PrefetchQuery(ctx context.Context, opts QueryOptions) {
	_, _ = c.FetchQuery(ctx, opts)
}

// Close cancels all in-flight fetches and releases every entry.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.Clear()
	return nil
}

// match returns entries whose key starts with prefix (positional,
// identity-compared segments). nil/empty prefix matches all entries.
func (c *Client) match(prefix Key) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if keyHasPrefix(e.key, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Client) entryObservers(e *entry) []*Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.observerSnapshot()
}

func keyHasPrefix(key, prefix Key) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i, seg := range prefix {
		if keycodec.Identity(Key{seg}) != keycodec.Identity(Key{key[i]}) {
			return false
		}
	}
	return true
}

// isStale evaluates the staleness rule shared by observers and FetchQuery.
func isStale(s EntryState, staleTime time.Duration, now time.Time) bool {
	if s.Invalidated || s.DataUpdatedAt.IsZero() {
		return true
	}
	if staleTime == StaleForever {
		return false
	}
	return now.Sub(s.DataUpdatedAt) >= staleTime
}
