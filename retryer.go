package querycache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// retryer drives one fetch to completion or terminal failure: attempt,
// consult the retry policy, back off, pause while offline, repeat. It owns a
// cancellable context threaded into every attempt; cancellation is
// cooperative, the attempt function must honor it to release resources.
type retryer struct {
	identity string
	attempt  func(ctx context.Context) (any, error)
	policy   RetryPolicy
	online   OnlineMonitor
	log      Logger
	hooks    Hooks

	ctx  context.Context
	stop context.CancelFunc
	fut  *future

	// onFail/onPause/onResume report intermediate transitions to the entry;
	// complete reports the terminal outcome exactly once.
	onFail   func(failureCount int, err error)
	onPause  func()
	onResume func()
	complete func(data any, err error)

	mu        sync.Mutex
	cancelErr *CancelledError
}

func newRetryer(identity string, attempt func(ctx context.Context) (any, error), policy RetryPolicy, online OnlineMonitor, log Logger, hooks Hooks) *retryer {
	ctx, stop := context.WithCancel(context.Background())
	return &retryer{
		identity: identity,
		attempt:  attempt,
		policy:   policy,
		online:   online,
		log:      log,
		hooks:    hooks,
		ctx:      ctx,
		stop:     stop,
		fut:      newFuture(),
	}
}

func (r *retryer) start() { go r.run() }

// cancel requests cooperative cancellation. revert asks the entry to restore
// its pre-fetch state (explicit cancel) rather than keep it (supersession).
func (r *retryer) cancel(revert bool) {
	r.mu.Lock()
	if r.cancelErr == nil {
		r.cancelErr = &CancelledError{Revert: revert}
	}
	r.mu.Unlock()
	r.stop()
}

func (r *retryer) cancelled() *CancelledError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelErr != nil {
		return r.cancelErr
	}
	if r.ctx.Err() != nil {
		return &CancelledError{}
	}
	return nil
}

func (r *retryer) run() {
	failureCount := 0
	for {
		data, err := r.tryOnce()
		if ce := r.cancelled(); ce != nil {
			r.hooks.FetchCancelled(r.identity)
			r.complete(nil, ce)
			return
		}
		if err == nil {
			r.complete(data, nil)
			return
		}

		failureCount++
		r.onFail(failureCount, err)
		if !r.policy.shouldRetry(failureCount, err) {
			r.log.Debug("fetch failed terminally", Fields{"identity": r.identity, "failures": failureCount, "err": err})
			r.complete(nil, err)
			return
		}

		r.hooks.FetchRetried(r.identity, failureCount, err)
		if !r.sleep(r.policy.delay(failureCount)) {
			r.hooks.FetchCancelled(r.identity)
			r.complete(nil, r.cancelled())
			return
		}

		// offline after a failure: suspend the attempt sequence until
		// connectivity resumes. failureCount carries across the pause.
		if !r.online.IsOnline() {
			if !r.pause() {
				r.hooks.FetchCancelled(r.identity)
				r.complete(nil, r.cancelled())
				return
			}
		}
	}
}

// tryOnce runs a single attempt, converting panics into errors so one bad
// fetch function cannot take the process down.
func (r *retryer) tryOnce() (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("querycache: fetch panic: %v", rec)
		}
	}()
	return r.attempt(r.ctx)
}

// sleep waits d, cancellable. Returns false when cancelled.
func (r *retryer) sleep(d time.Duration) bool {
	if d <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// pause blocks until the online monitor reports connectivity or the fetch is
// cancelled. Returns false when cancelled.
func (r *retryer) pause() bool {
	resumed := make(chan struct{})
	var once sync.Once
	unsub := r.online.Subscribe(func(online bool) {
		if online {
			once.Do(func() { close(resumed) })
		}
	})
	defer unsub()

	// the monitor may have flipped between the IsOnline check and Subscribe
	if r.online.IsOnline() {
		once.Do(func() { close(resumed) })
	}

	r.onPause()
	r.hooks.FetchPaused(r.identity)
	r.log.Debug("fetch paused (offline)", Fields{"identity": r.identity})

	select {
	case <-resumed:
		r.onResume()
		r.hooks.FetchResumed(r.identity)
		return true
	case <-r.ctx.Done():
		return false
	}
}
