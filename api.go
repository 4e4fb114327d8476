package querycache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/querycache/keycodec"
)

// Key is an ordered sequence of values forming one cache coordinate. Keys
// that differ only in map-entry order (or nil map entries) share an identity
// and therefore a cache entry.
type Key = keycodec.Key

// Meta is an opaque bag passed through to the fetch function, never
// interpreted by the cache.
type Meta map[string]any

// FetchContext carries per-attempt inputs to a FetchFunc. The context is
// cancelled when the fetch is superseded or cancelled; fetch functions should
// honor it to free resources promptly.
type FetchContext struct {
	Key       Key
	PageParam any // set only for paginated fetches
	Meta      Meta
}

// FetchFunc produces raw data for one fetch (one page, when paginated).
type FetchFunc func(ctx context.Context, fc FetchContext) (any, error)

// RetryPolicy decides whether and when a failed attempt is retried.
// Zero value: up to 3 retries with doubling delay from 1s capped at 30s.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Negative disables retries entirely. Ignored when ShouldRetry is set.
	MaxRetries int

	// ShouldRetry, when set, is consulted with the running failure count
	// and the attempt error instead of MaxRetries.
	ShouldRetry func(failureCount int, err error) bool

	// Delay, when set, replaces the default exponential backoff.
	Delay func(failureCount int) time.Duration
}

func (p RetryPolicy) shouldRetry(failureCount int, err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(failureCount, err)
	}
	max := p.MaxRetries
	if max == 0 {
		max = defaultRetryCount
	}
	if max < 0 {
		return false
	}
	return failureCount <= max
}

func (p RetryPolicy) delay(failureCount int) time.Duration {
	if p.Delay != nil {
		return p.Delay(failureCount)
	}
	d := retryDelayBase << uint(failureCount-1)
	if d > retryDelayMax || d <= 0 {
		return retryDelayMax
	}
	return d
}

// Options tune a Client. All fields are optional.
type Options struct {
	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// Online and Focus are the consumed boolean signal collaborators.
	// nil => permanently online / focused.
	Online OnlineMonitor
	Focus  FocusMonitor

	// DefaultGCTime is how long an entry with no observers is kept.
	// 0 => 5 minutes.
	DefaultGCTime time.Duration

	// DefaultStaleTime applies to queries that leave StaleTime unset.
	// 0 (the default) means always stale; StaleForever means never.
	DefaultStaleTime time.Duration

	// DefaultRetry applies to queries that leave Retry unset.
	DefaultRetry RetryPolicy

	// Now overrides the clock (tests).
	Now func() time.Time
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	return newClient(opts)
}
