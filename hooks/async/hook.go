// Package asynchook decouples slow hook sinks from the cache's hot paths: raw
// hook events are queued and replayed by worker goroutines; events that would
// block are dropped rather than stalling a fetch.
//
// usage:
//
//	hooks := asynchook.New(myHooks, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := querycache.New(querycache.Options{
//	    Hooks: hooks, // or `myHooks` directly if it is already cheap
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/querycache"
)

type Hooks struct {
	inner querycache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(inner querycache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) EntryAdded(id string)     { h.try(func() { h.inner.EntryAdded(id) }) }
func (h *Hooks) EntryRemoved(id string)   { h.try(func() { h.inner.EntryRemoved(id) }) }
func (h *Hooks) FetchPaused(id string)    { h.try(func() { h.inner.FetchPaused(id) }) }
func (h *Hooks) FetchResumed(id string)   { h.try(func() { h.inner.FetchResumed(id) }) }
func (h *Hooks) FetchCancelled(id string) { h.try(func() { h.inner.FetchCancelled(id) }) }
func (h *Hooks) FetchRetried(id string, n int, err error) {
	h.try(func() { h.inner.FetchRetried(id, n, err) })
}
func (h *Hooks) SelectFailed(id string, err error) {
	h.try(func() { h.inner.SelectFailed(id, err) })
}
