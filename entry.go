package querycache

import (
	"context"
	"errors"
	"time"
)

// fetchConfig describes one fetch request against an entry.
type fetchConfig struct {
	fetch FetchFunc
	meta  Meta
	retry RetryPolicy

	// behavior, when set, replaces the single-shot fetch call as the unit of
	// work the retryer drives. Paginated observers use it to run the page
	// sequencing algorithm and still settle through the entry's single
	// completion path.
	behavior func(ctx context.Context) (any, error)

	// cancelRefetch cancels a fetch already in flight instead of attaching
	// to it.
	cancelRefetch bool
}

// entry is one cache slot. All state transitions are serialized through its
// at-most-one in-flight retryer; a second fetch request against a running
// entry attaches to the existing retryer's future.
type entry struct {
	client   *Client
	identity string
	key      Key
	gcTime   time.Duration

	// guarded by client.mu (shared with the registry map so subscribe,
	// eviction and state application cannot interleave).
	state     EntryState
	revert    EntryState // snapshot taken at fetch dispatch, for revert-cancel
	observers []*Observer
	retryer   *retryer
	gcTimer   *time.Timer
	removed   bool
}

func (e *entry) snapshot() EntryState {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	return e.state
}

// fetch starts (or attaches to) a fetch and returns the shared future.
func (e *entry) fetch(cfg fetchConfig) *future {
	c := e.client
	c.mu.Lock()
	if e.retryer != nil {
		if !cfg.cancelRefetch {
			fut := e.retryer.fut
			c.mu.Unlock()
			return fut
		}
		prev := e.retryer
		e.retryer = nil
		prev.cancel(false) // superseded, keep whatever it produced so far
	}
	if e.removed {
		c.mu.Unlock()
		fut := newFuture()
		fut.settle(nil, &CancelledError{})
		return fut
	}

	attempt := cfg.behavior
	if attempt == nil {
		fetchFn := cfg.fetch
		meta := cfg.meta
		attempt = func(ctx context.Context) (any, error) {
			return fetchFn(ctx, FetchContext{Key: e.key, Meta: meta})
		}
	}

	r := newRetryer(e.identity, attempt, cfg.retry, c.online, c.log, c.hooks)
	r.onFail = func(n int, err error) { e.applyFailure(r, n, err) }
	r.onPause = func() { e.applyFetchStatus(r, FetchPaused) }
	r.onResume = func() { e.applyFetchStatus(r, FetchFetching) }
	r.complete = func(data any, err error) { e.applyOutcome(r, data, err) }
	e.retryer = r

	// dispatch: mark fetching; a pending entry sheds any stale error.
	e.revert = e.state
	e.state.FetchStatus = FetchFetching
	e.state.FetchFailureCount = 0
	e.state.FetchFailureReason = nil
	if e.state.DataUpdatedAt.IsZero() {
		e.state.Err = nil
		e.state.Status = StatusPending
	}
	obs := e.observerSnapshot()
	c.mu.Unlock()

	c.log.Debug("fetch dispatched", Fields{"identity": e.identity})
	notifyObservers(obs)
	r.start()
	return r.fut
}

// applyOutcome handles the retryer's terminal result. A retryer that has been
// superseded must not touch entry state; its waiters still get the outcome
// through the shared future.
func (e *entry) applyOutcome(r *retryer, data any, err error) {
	c := e.client
	c.mu.Lock()
	current := e.retryer == r
	if current {
		e.retryer = nil
		switch {
		case err == nil:
			e.applyDataLocked(data, c.now())
		case IsCancelled(err):
			var ce *CancelledError
			if errors.As(err, &ce) && ce.Revert {
				e.state = e.revert
			}
			e.state.FetchStatus = FetchIdle
		default:
			e.state.Status = StatusError
			e.state.Err = err
			e.state.ErrorUpdatedAt = c.now()
			e.state.FetchStatus = FetchIdle
		}
	}
	obs := e.observerSnapshot()
	c.mu.Unlock()

	if current {
		notifyObservers(obs)
		e.scheduleGC()
	}
	r.fut.settle(data, err)
}

func (e *entry) applyFailure(r *retryer, failureCount int, err error) {
	c := e.client
	c.mu.Lock()
	if e.retryer != r {
		c.mu.Unlock()
		return
	}
	e.state.FetchFailureCount = failureCount
	e.state.FetchFailureReason = err
	obs := e.observerSnapshot()
	c.mu.Unlock()
	notifyObservers(obs)
}

func (e *entry) applyFetchStatus(r *retryer, fs FetchStatus) {
	c := e.client
	c.mu.Lock()
	if e.retryer != r {
		c.mu.Unlock()
		return
	}
	e.state.FetchStatus = fs
	obs := e.observerSnapshot()
	c.mu.Unlock()
	notifyObservers(obs)
}

// setData applies a success transition without going through the retryer
// (manual cache writes, hydration). Subscribers are notified identically to a
// real fetch completion.
func (e *entry) setData(data any, updatedAt time.Time) {
	c := e.client
	c.mu.Lock()
	e.applyDataLocked(data, updatedAt)
	obs := e.observerSnapshot()
	c.mu.Unlock()
	notifyObservers(obs)
}

func (e *entry) applyDataLocked(data any, updatedAt time.Time) {
	e.state.Data = data
	e.state.Err = nil
	e.state.Status = StatusSuccess
	e.state.DataUpdatedAt = updatedAt
	e.state.FetchStatus = FetchIdle
	e.state.FetchFailureCount = 0
	e.state.FetchFailureReason = nil
	e.state.Invalidated = false
}

// cancel aborts the in-flight retryer, if any. Data and error are left
// unchanged unless revert is set.
func (e *entry) cancel(revert bool) {
	c := e.client
	c.mu.Lock()
	r := e.retryer
	c.mu.Unlock()
	if r != nil {
		r.cancel(revert)
	}
}

func (e *entry) invalidate() {
	c := e.client
	c.mu.Lock()
	e.state.Invalidated = true
	obs := e.observerSnapshot()
	c.mu.Unlock()
	notifyObservers(obs)
}

// observerSnapshot must be called with client.mu held.
func (e *entry) observerSnapshot() []*Observer {
	obs := make([]*Observer, len(e.observers))
	copy(obs, e.observers)
	return obs
}

// scheduleGC arms the idle deadline when the entry is unobserved and idle.
// Must be called without client.mu held.
func (e *entry) scheduleGC() {
	c := e.client
	c.mu.Lock()
	defer c.mu.Unlock()
	e.scheduleGCLocked()
}

func (e *entry) scheduleGCLocked() {
	if e.removed || len(e.observers) > 0 || e.retryer != nil {
		return
	}
	if e.gcTimer != nil {
		e.gcTimer.Stop()
	}
	e.gcTimer = time.AfterFunc(e.gcTime, func() { e.client.maybeRemove(e) })
}

func (e *entry) clearGCLocked() {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
}

func notifyObservers(obs []*Observer) {
	for _, o := range obs {
		o.onEntryUpdate()
	}
}
