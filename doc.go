// Package querycache implements a client-side asynchronous data cache. Data is
// identified by a structured key, fetched on demand, deduplicated per key, and
// refreshed in the background once stale. Multi-page ("infinite") pagination is
// layered on top of the same single-entry fetch pipeline.
//
// Components:
//   - keycodec: deterministic serialization of a structured Key into a stable
//     identity string (map-order independent).
//   - entry + retryer: one cache slot; a state machine over
//     (status, fetchStatus) driven by at most one in-flight retryer with
//     cancellation, exponential backoff and pause-on-offline.
//   - Client: registry owning entries by identity. Creates on first reference,
//     garbage-collects entries with no observers after gcTime.
//   - Observer: binds QueryOptions to an entry, derives a Result (select
//     transform, placeholder data, staleness) and fans it out to subscribers.
//   - InfiniteObserver: Observer variant managing an ordered, growable
//     sequence of pages with forward/backward continuation.
//
// Usage:
//
//	client, _ := querycache.New(querycache.Options{})
//	obs, _ := querycache.NewObserver(client, querycache.QueryOptions{
//	    Key:   querycache.Key{"todos", 42},
//	    Fetch: fetchTodos,
//	})
//	stop := obs.Subscribe(func(r querycache.Result) { render(r) })
//	defer stop()
//
// Observers referencing the same Key share one entry; concurrent fetches for
// one identity attach to the in-flight attempt, so at most one fetch runs per
// identity at any instant.
package querycache
