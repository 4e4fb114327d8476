package querycache

import (
	"fmt"
	"time"
)

// RefetchMode controls when a signal (mount, reconnect, focus) triggers a
// refetch.
type RefetchMode int

const (
	// RefetchStale refetches only when the entry is stale (default).
	RefetchStale RefetchMode = iota
	RefetchAlways
	RefetchNever
)

// RefetchPolicy is a RefetchMode with an optional dynamic override evaluated
// against the observer's current result.
type RefetchPolicy struct {
	Mode RefetchMode
	Func func(r Result) RefetchMode
}

func (p RefetchPolicy) decide(r Result) RefetchMode {
	if p.Func != nil {
		return p.Func(r)
	}
	return p.Mode
}

// ResultField names one field of Result for notification narrowing.
type ResultField int

const (
	FieldData ResultField = iota
	FieldError
	FieldStatus
	FieldFetchStatus
	FieldIsStale
	FieldFailureCount
	FieldHasNextPage
	FieldHasPreviousPage
	FieldIsFetchingNextPage
	FieldIsFetchingPreviousPage
)

// PageParamFunc produces the parameter for the page adjacent to page. For the
// forward direction it receives the last page; backward, the first. Returning
// nil means "no further page". It runs on every result recomputation, far more
// often than fetches, so it must be pure.
type PageParamFunc func(page any, allPages []any, pageParam any, allPageParams []any) any

// QueryOptions bind an observer to a key. The recognized option set is closed:
// it is exactly the fields of this struct.
type QueryOptions struct {
	// Key is the cache coordinate. Required.
	Key Key

	// Fetch produces raw data for one fetch (one page when paginated).
	// Required unless the entry is only ever written manually.
	Fetch FetchFunc

	// Select is a pure transform applied to stored data before delivery.
	// Its output is never stored; a failure surfaces only in this
	// observer's Result.
	Select func(data any) (any, error)

	// PlaceholderData substitutes for Data while the entry is pending with
	// nothing fetched yet. Derived-only, never stored.
	PlaceholderData any

	// InitialData seeds a newly created entry as an immediate success.
	InitialData          any
	InitialDataUpdatedAt time.Time

	// StaleTime is how long fetched data stays fresh. Zero inherits the
	// client default (itself zero: always stale); StaleForever disables
	// staleness.
	StaleTime time.Duration

	// GCTime overrides the client's idle eviction deadline for this entry.
	GCTime time.Duration

	// Retry overrides the client's retry policy.
	Retry RetryPolicy

	RefetchOnMount     RefetchPolicy
	RefetchOnReconnect RefetchPolicy
	RefetchOnFocus     RefetchPolicy

	// NotifyOn narrows subscriber notifications to changes of the listed
	// fields. Empty means every change. Purely a volume optimization.
	NotifyOn []ResultField

	// Meta is passed through to Fetch, never interpreted.
	Meta Meta

	// Pagination (InfiniteObserver only).
	InitialPageParam     any
	GetNextPageParam     PageParamFunc
	GetPreviousPageParam PageParamFunc
	// MaxPages bounds the page sequence; fetching past it evicts from the
	// opposite end. Zero means unbounded.
	MaxPages int
}

func (o *QueryOptions) validate() error {
	if len(o.Key) == 0 {
		return fmt.Errorf("querycache: key is required")
	}
	if o.Fetch == nil && o.InitialData == nil {
		return fmt.Errorf("querycache: fetch function is required")
	}
	if o.MaxPages < 0 {
		return fmt.Errorf("querycache: MaxPages must be >= 0")
	}
	return nil
}

func (o *QueryOptions) validateInfinite() error {
	if err := o.validate(); err != nil {
		return err
	}
	if o.GetNextPageParam == nil {
		return fmt.Errorf("querycache: GetNextPageParam is required for paginated queries")
	}
	if o.InitialPageParam == nil && o.InitialData == nil {
		return fmt.Errorf("querycache: InitialPageParam is required for paginated queries")
	}
	return nil
}

func (o *QueryOptions) applyDefaults(c *Client) {
	o.StaleTime = coalesce(o.StaleTime, c.staleTime)
	if o.Retry.MaxRetries == 0 && o.Retry.ShouldRetry == nil && o.Retry.Delay == nil {
		o.Retry = c.retry
	}
}
