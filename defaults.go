package querycache

import (
	"math"
	"time"
)

const (
	defaultGCTime     = 5 * time.Minute
	defaultRetryCount = 3
	retryDelayBase    = time.Second
	retryDelayMax     = 30 * time.Second
)

// StaleForever disables staleness: data fetched once is never refetched by
// policy. StaleTime 0 (the default) means always stale.
const StaleForever = time.Duration(math.MaxInt64)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
