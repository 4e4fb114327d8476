package querycache

// Hooks are lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking; the cache calls them on hot
// paths while holding no locks. Wrap with hooks/async to decouple slow sinks.
type Hooks interface {
	// An entry was created for an identity seen for the first time.
	EntryAdded(identity string)

	// An entry with no observers outlived its GC deadline and was removed.
	EntryRemoved(identity string)

	// A fetch attempt failed and will be retried after backoff.
	FetchRetried(identity string, failureCount int, err error)

	// The retryer suspended because the consumer went offline.
	FetchPaused(identity string)

	// Connectivity resumed and the retryer continued.
	FetchResumed(identity string)

	// An in-flight fetch was cancelled (explicitly or superseded).
	FetchCancelled(identity string)

	// A select transform failed; the entry keeps its data, only the
	// observer's derived result carries the error.
	SelectFailed(identity string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) EntryAdded(string)               {}
func (NopHooks) EntryRemoved(string)             {}
func (NopHooks) FetchRetried(string, int, error) {}
func (NopHooks) FetchPaused(string)              {}
func (NopHooks) FetchResumed(string)             {}
func (NopHooks) FetchCancelled(string)           {}
func (NopHooks) SelectFailed(string, error)      {}
