package querycache

import "time"

// DehydratedQuery is the portable form of one successful entry.
type DehydratedQuery struct {
	Key           Key       `json:"key" msgpack:"key" cbor:"key"`
	Data          any       `json:"data" msgpack:"data" cbor:"data"`
	DataUpdatedAt time.Time `json:"dataUpdatedAt" msgpack:"dataUpdatedAt" cbor:"dataUpdatedAt"`
}

// DehydratedState is a point-in-time snapshot of the registry's successful
// entries, the input external persistence collaborators serialize (see the
// codec package for stable byte encodings).
type DehydratedState struct {
	Queries []DehydratedQuery `json:"queries" msgpack:"queries" cbor:"queries"`
}

// Dehydrate snapshots every entry that currently holds data. Pending and
// errored entries are not portable and are skipped.
func (c *Client) Dehydrate() DehydratedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out DehydratedState
	for _, e := range c.entries {
		if e.state.Status != StatusSuccess {
			continue
		}
		out.Queries = append(out.Queries, DehydratedQuery{
			Key:           append(Key(nil), e.key...),
			Data:          e.state.Data,
			DataUpdatedAt: e.state.DataUpdatedAt,
		})
	}
	return out
}

// Hydrate restores a snapshot. Each query lands through the entry's manual
// write path (an immediate success transition), so subscribers of already
// existing entries are notified. Entries whose local data is newer than the
// snapshot keep it.
func (c *Client) Hydrate(s DehydratedState) {
	for _, q := range s.Queries {
		e := c.getOrCreate(q.Key, nil)
		if cur := e.snapshot(); cur.Status == StatusSuccess && cur.DataUpdatedAt.After(q.DataUpdatedAt) {
			continue
		}
		e.setData(q.Data, q.DataUpdatedAt)
	}
}
