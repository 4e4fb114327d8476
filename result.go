package querycache

import (
	"reflect"
	"time"
)

// Result is the externally visible derived value of an observer: a pure
// function of (entry state, observer options, pending-direction flags). It is
// recomputed on demand, never stored independently of entry state.
type Result struct {
	// Data is the stored value after the Select transform (or the
	// placeholder while pending).
	Data any
	Err  error

	Status      Status
	FetchStatus FetchStatus

	DataUpdatedAt  time.Time
	ErrorUpdatedAt time.Time

	FailureCount  int
	FailureReason error

	IsFetching    bool
	IsPaused      bool
	IsStale       bool
	IsPlaceholder bool

	// Pagination; meaningful only for InfiniteObserver results.
	HasNextPage            bool
	HasPreviousPage        bool
	IsFetchingNextPage     bool
	IsFetchingPreviousPage bool
}

func (r Result) IsPending() bool { return r.Status == StatusPending }
func (r Result) IsSuccess() bool { return r.Status == StatusSuccess }
func (r Result) IsError() bool   { return r.Status == StatusError }

// diffResults reports which fields differ between two results.
func diffResults(prev, next Result) map[ResultField]bool {
	changed := make(map[ResultField]bool)
	if !reflect.DeepEqual(prev.Data, next.Data) {
		changed[FieldData] = true
	}
	if !errEqual(prev.Err, next.Err) {
		changed[FieldError] = true
	}
	if prev.Status != next.Status {
		changed[FieldStatus] = true
	}
	if prev.FetchStatus != next.FetchStatus {
		changed[FieldFetchStatus] = true
	}
	if prev.IsStale != next.IsStale {
		changed[FieldIsStale] = true
	}
	if prev.FailureCount != next.FailureCount {
		changed[FieldFailureCount] = true
	}
	if prev.HasNextPage != next.HasNextPage {
		changed[FieldHasNextPage] = true
	}
	if prev.HasPreviousPage != next.HasPreviousPage {
		changed[FieldHasPreviousPage] = true
	}
	if prev.IsFetchingNextPage != next.IsFetchingNextPage {
		changed[FieldIsFetchingNextPage] = true
	}
	if prev.IsFetchingPreviousPage != next.IsFetchingPreviousPage {
		changed[FieldIsFetchingPreviousPage] = true
	}
	return changed
}

func errEqual(a, b error) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.Error() == b.Error()
}

// shouldNotify applies the NotifyOn narrowing: empty interest means any
// change counts.
func shouldNotify(changed map[ResultField]bool, interest []ResultField) bool {
	if len(changed) == 0 {
		return false
	}
	if len(interest) == 0 {
		return true
	}
	for _, f := range interest {
		if changed[f] {
			return true
		}
	}
	return false
}
