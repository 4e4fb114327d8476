package querycache

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ==============================
// Shared test fakes
// ==============================

// countingFetch wraps a fetch func and counts invocations.
type countingFetch struct {
	mu    sync.Mutex
	calls int
	fn    FetchFunc
}

func newCountingFetch(fn FetchFunc) *countingFetch {
	return &countingFetch{fn: fn}
}

func (c *countingFetch) Fetch(ctx context.Context, fc FetchContext) (any, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(ctx, fc)
}

func (c *countingFetch) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// staticFetch returns v on every call.
func staticFetch(v any) FetchFunc {
	return func(context.Context, FetchContext) (any, error) { return v, nil }
}

// gatedFetch blocks every call until release is closed, then returns v.
func gatedFetch(release <-chan struct{}, v any) FetchFunc {
	return func(ctx context.Context, _ FetchContext) (any, error) {
		select {
		case <-release:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// recordingHooks captures hook events for assertions.
type recordingHooks struct {
	NopHooks
	mu      sync.Mutex
	added   []string
	removed []string
	retried int
	paused  int
	resumed int
	selErrs int
}

func (h *recordingHooks) EntryAdded(id string) {
	h.mu.Lock()
	h.added = append(h.added, id)
	h.mu.Unlock()
}

func (h *recordingHooks) EntryRemoved(id string) {
	h.mu.Lock()
	h.removed = append(h.removed, id)
	h.mu.Unlock()
}

func (h *recordingHooks) FetchRetried(string, int, error) {
	h.mu.Lock()
	h.retried++
	h.mu.Unlock()
}

func (h *recordingHooks) FetchPaused(string) {
	h.mu.Lock()
	h.paused++
	h.mu.Unlock()
}

func (h *recordingHooks) FetchResumed(string) {
	h.mu.Lock()
	h.resumed++
	h.mu.Unlock()
}

func (h *recordingHooks) SelectFailed(string, error) {
	h.mu.Lock()
	h.selErrs++
	h.mu.Unlock()
}

func (h *recordingHooks) selectFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selErrs
}

func (h *recordingHooks) removedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.removed)
}

func newTestClient(t *testing.T, optsOpt func(*Options)) *Client {
	t.Helper()
	opts := Options{}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// fastRetry keeps backoff out of test wall time.
func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Delay:      func(int) time.Duration { return time.Millisecond },
	}
}

// noRetry disables retries entirely.
func noRetry() RetryPolicy { return RetryPolicy{MaxRetries: -1} }

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
