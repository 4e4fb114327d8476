package querycache

import "time"

// Status describes what the entry knows about its data.
type Status string

const (
	StatusPending Status = "pending" // no data and no error yet
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// FetchStatus describes what the entry's fetch pipeline is doing right now,
// independent of Status: a successful entry can be background-fetching.
type FetchStatus string

const (
	FetchIdle     FetchStatus = "idle"
	FetchFetching FetchStatus = "fetching"
	FetchPaused   FetchStatus = "paused"
)

// EntryState is the externally visible snapshot of one cache slot.
type EntryState struct {
	Data           any
	Err            error
	Status         Status
	FetchStatus    FetchStatus
	DataUpdatedAt  time.Time
	ErrorUpdatedAt time.Time

	// FetchFailureCount counts consecutive failed attempts of the current
	// fetch; reset to zero on success. Not reset by pausing.
	FetchFailureCount  int
	FetchFailureReason error

	// Invalidated forces staleness until the next successful fetch.
	Invalidated bool
}
