package querycache

import "sync"

// OnlineMonitor is the connectivity collaborator consumed by the cache. The
// cache never produces connectivity events; it only reads the current state
// and subscribes for transitions (retryer pause/resume, reconnect refetch).
type OnlineMonitor interface {
	IsOnline() bool
	// Subscribe registers fn for state transitions and returns an
	// unsubscribe func. fn may be invoked from any goroutine.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// FocusMonitor is the window-focus collaborator, same contract shape.
type FocusMonitor interface {
	IsFocused() bool
	Subscribe(fn func(focused bool)) (unsubscribe func())
}

// alwaysOnline is the default OnlineMonitor: permanently connected, no events.
type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool              { return true }
func (alwaysOnline) Subscribe(func(bool)) func() { return func() {} }

// alwaysFocused is the default FocusMonitor.
type alwaysFocused struct{}

func (alwaysFocused) IsFocused() bool             { return true }
func (alwaysFocused) Subscribe(func(bool)) func() { return func() {} }

// ManualMonitor is a settable monitor for hosts that bridge their own event
// source (and for tests). It satisfies both OnlineMonitor and FocusMonitor.
type ManualMonitor struct {
	mu    sync.Mutex
	state bool
	subs  map[int]func(bool)
	next  int
}

// NewManualMonitor returns a monitor with the given initial state.
func NewManualMonitor(initial bool) *ManualMonitor {
	return &ManualMonitor{state: initial, subs: make(map[int]func(bool))}
}

func (m *ManualMonitor) IsOnline() bool  { return m.get() }
func (m *ManualMonitor) IsFocused() bool { return m.get() }

func (m *ManualMonitor) get() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Set updates the state and notifies subscribers on transitions.
func (m *ManualMonitor) Set(state bool) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (m *ManualMonitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
