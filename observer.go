package querycache

import (
	"context"
	"sync"
	"time"
)

// Observer binds QueryOptions to one entry: it derives a Result from entry
// state, schedules staleness-driven and signal-driven refetches, and fans out
// state changes to subscribers. Observers referencing the same Key share the
// entry; each keeps only derived state.
type Observer struct {
	client *Client
	entry  *entry
	opts   QueryOptions

	mu     sync.Mutex
	subs   map[int]func(Result)
	nextID int
	result Result

	// select memo, keyed by the data timestamp of the last transform
	selAt   time.Time
	selVal  any
	selErr  error
	selSet  bool
	selHook error // fresh transform failure awaiting hook emission

	staleTimer  *time.Timer
	unsubOnline func()
	unsubFocus  func()

	// pagination glue, installed by InfiniteObserver
	extendResult func(r *Result, s EntryState)
	behavior     func(ctx context.Context) (any, error)
	pendingNext  bool
	pendingPrev  bool
}

// NewObserver validates opts, resolves the entry (creating it on first
// reference) and returns an unsubscribed observer.
func NewObserver(c *Client, opts QueryOptions) (*Observer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return newObserver(c, opts), nil
}

func newObserver(c *Client, opts QueryOptions) *Observer {
	opts.applyDefaults(c)
	o := &Observer{
		client: c,
		opts:   opts,
		subs:   make(map[int]func(Result)),
	}
	o.entry = c.getOrCreate(opts.Key, &o.opts)
	return o
}

// Options returns a copy of the bound options.
func (o *Observer) Options() QueryOptions { return o.opts }

// ent returns the bound entry. The binding can move once, when the first
// subscriber finds the construction-time entry already evicted, so unlocked
// paths must read it through here.
func (o *Observer) ent() *entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entry
}

// Result recomputes the derived result from current entry state.
func (o *Observer) Result() Result {
	o.mu.Lock()
	o.result = o.computeLocked()
	res := o.result
	emit := o.takeSelectFailureLocked()
	o.mu.Unlock()

	if emit != nil {
		emit()
	}
	return res
}

// Subscribe registers cb and delivers the current result to it synchronously
// before returning. The first subscriber attaches the observer to the entry
// and evaluates the mount refetch policy; a stale entry triggers a background
// fetch without blocking the initial delivery. The returned func detaches cb;
// detaching the last subscriber arms the entry's GC deadline.
func (o *Observer) Subscribe(cb func(Result)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = cb
	first := len(o.subs) == 1
	o.mu.Unlock()

	if first {
		e := o.client.subscribe(o.ent(), o)
		unsubOnline := o.client.online.Subscribe(func(online bool) {
			if online {
				o.onSignal(o.opts.RefetchOnReconnect)
			}
		})
		unsubFocus := o.client.focus.Subscribe(func(focused bool) {
			if focused {
				o.onSignal(o.opts.RefetchOnFocus)
			}
		})
		o.mu.Lock()
		o.entry = e
		o.unsubOnline = unsubOnline
		o.unsubFocus = unsubFocus
		o.mu.Unlock()
	}

	o.mu.Lock()
	o.result = o.computeLocked()
	res := o.result
	o.armStaleTimerLocked()
	emit := o.takeSelectFailureLocked()
	o.mu.Unlock()

	if emit != nil {
		emit()
	}
	cb(res)
	if first {
		o.maybeRefetch(o.opts.RefetchOnMount, res)
	}

	var once sync.Once
	return func() {
		once.Do(func() { o.removeSub(id) })
	}
}

func (o *Observer) removeSub(id int) {
	o.mu.Lock()
	delete(o.subs, id)
	last := len(o.subs) == 0
	if last && o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	unsubOnline, unsubFocus := o.unsubOnline, o.unsubFocus
	if last {
		o.unsubOnline, o.unsubFocus = nil, nil
	}
	e := o.entry
	o.mu.Unlock()

	if last {
		if unsubOnline != nil {
			unsubOnline()
		}
		if unsubFocus != nil {
			unsubFocus()
		}
		o.client.unsubscribe(e, o)
	}
}

// Refetch forces a fetch regardless of staleness, superseding any fetch
// already in flight, and returns the eventual result. The error mirrors the
// fetch outcome (nil on success, CancelledError when superseded again).
func (o *Observer) Refetch(ctx context.Context) (Result, error) {
	fut := o.ent().fetch(o.fetchConfig(true))
	_, err := fut.wait(ctx)
	return o.Result(), err
}

func (o *Observer) fetchConfig(cancelRefetch bool) fetchConfig {
	return fetchConfig{
		fetch:         o.opts.Fetch,
		meta:          o.opts.Meta,
		retry:         o.opts.Retry,
		behavior:      o.behavior,
		cancelRefetch: cancelRefetch,
	}
}

// onEntryUpdate recomputes the result after an entry state transition and
// notifies subscribers whose declared interest intersects the changed fields.
func (o *Observer) onEntryUpdate() {
	o.mu.Lock()
	if len(o.subs) == 0 {
		o.mu.Unlock()
		return
	}
	prev := o.result
	o.result = o.computeLocked()
	res := o.result
	changed := diffResults(prev, res)
	notify := shouldNotify(changed, o.opts.NotifyOn)
	if prev.DataUpdatedAt != res.DataUpdatedAt {
		o.armStaleTimerLocked()
	}
	var cbs []func(Result)
	if notify {
		cbs = make([]func(Result), 0, len(o.subs))
		for _, cb := range o.subs {
			cbs = append(cbs, cb)
		}
	}
	emit := o.takeSelectFailureLocked()
	o.mu.Unlock()

	if emit != nil {
		emit()
	}
	for _, cb := range cbs {
		cb(res)
	}
}

// computeLocked derives Result from current entry state. Caller holds o.mu.
func (o *Observer) computeLocked() Result {
	s := o.entry.snapshot()
	r := Result{
		Status:         s.Status,
		FetchStatus:    s.FetchStatus,
		Err:            s.Err,
		DataUpdatedAt:  s.DataUpdatedAt,
		ErrorUpdatedAt: s.ErrorUpdatedAt,
		FailureCount:   s.FetchFailureCount,
		FailureReason:  s.FetchFailureReason,
		IsFetching:     s.FetchStatus == FetchFetching,
		IsPaused:       s.FetchStatus == FetchPaused,
	}

	switch {
	case o.opts.Select != nil && s.Data != nil:
		val, err := o.selectLocked(s)
		if err != nil {
			r.Err = &SelectError{Err: err}
			r.Status = StatusError
		} else {
			r.Data = val
		}
	default:
		r.Data = s.Data
	}

	if r.Status == StatusPending && r.Data == nil && o.opts.PlaceholderData != nil {
		r.Data = o.opts.PlaceholderData
		r.Status = StatusSuccess
		r.IsPlaceholder = true
	}

	r.IsStale = isStale(s, o.opts.StaleTime, o.client.now())

	if o.extendResult != nil {
		o.extendResult(&r, s)
	}
	return r
}

// selectLocked memoizes the transform per stored-data version so a pure
// Select runs once per entry update, not once per recomputation.
func (o *Observer) selectLocked(s EntryState) (any, error) {
	if o.selSet && o.selAt.Equal(s.DataUpdatedAt) {
		return o.selVal, o.selErr
	}
	val, err := runSelect(o.opts.Select, s.Data)
	o.selAt = s.DataUpdatedAt
	o.selVal, o.selErr = val, err
	o.selSet = true
	if err != nil {
		o.selHook = err
	}
	return val, err
}

// takeSelectFailureLocked hands a freshly recorded transform failure to the
// caller for emission outside o.mu; the memo keeps it to at most one per data
// version. Caller holds o.mu.
func (o *Observer) takeSelectFailureLocked() func() {
	if o.selHook == nil {
		return nil
	}
	err := o.selHook
	o.selHook = nil
	id := o.entry.identity
	hooks := o.client.hooks
	return func() { hooks.SelectFailed(id, err) }
}

// runSelect shields the cache from a panicking transform.
func runSelect(sel func(any) (any, error), data any) (val any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return sel(data)
}

// refetchIfActive triggers a background fetch when the observer has live
// subscribers (invalidation path).
func (o *Observer) refetchIfActive() {
	o.mu.Lock()
	active := len(o.subs) > 0
	e := o.entry
	o.mu.Unlock()
	if active {
		e.fetch(o.fetchConfig(false))
	}
}

// onSignal handles reconnect/focus events per the corresponding policy.
func (o *Observer) onSignal(policy RefetchPolicy) {
	o.mu.Lock()
	active := len(o.subs) > 0
	o.mu.Unlock()
	if !active {
		return
	}
	o.maybeRefetch(policy, o.Result())
}

func (o *Observer) maybeRefetch(policy RefetchPolicy, res Result) {
	switch policy.decide(res) {
	case RefetchNever:
		return
	case RefetchAlways:
	default: // RefetchStale
		if !res.IsStale {
			return
		}
	}
	o.ent().fetch(o.fetchConfig(false))
}

// armStaleTimerLocked schedules a one-shot wake at the stale boundary; on
// firing the observer refetches if it still has subscribers. Caller holds o.mu.
func (o *Observer) armStaleTimerLocked() {
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	st := o.opts.StaleTime
	if st <= 0 || st == StaleForever || len(o.subs) == 0 {
		return
	}
	s := o.entry.snapshot()
	if s.DataUpdatedAt.IsZero() {
		return
	}
	until := st - o.client.now().Sub(s.DataUpdatedAt)
	if until <= 0 {
		return
	}
	// nudge past the boundary so IsStale flips before the callback runs
	o.staleTimer = time.AfterFunc(until+time.Millisecond, o.onStaleTimeout)
}

func (o *Observer) onStaleTimeout() {
	o.mu.Lock()
	active := len(o.subs) > 0
	e := o.entry
	o.mu.Unlock()
	if !active {
		return
	}
	o.onEntryUpdate() // IsStale flipped
	e.fetch(o.fetchConfig(false))
}
