package countdown

import (
	"sort"
	"sync"
	"time"
)

// DefaultHold is the hold length in ticks; one tick is one second by default.
const DefaultHold = 300

type ExpireFunc func(tableID string)

type entry struct {
	remaining int
	stop      chan struct{}
}

// Manager runs one countdown per table. Starting a table again replaces its
// countdown; the replaced one never fires.
type Manager struct {
	hold     int
	interval time.Duration

	mu       sync.Mutex
	entries  map[string]*entry
	onExpire ExpireFunc
	// last Suspend result, kept until Resume so a repeated Suspend loses nothing
	suspended *Snapshot
}

func New(hold int, interval time.Duration) *Manager {
	if hold <= 0 {
		hold = DefaultHold
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Manager{hold: hold, interval: interval, entries: make(map[string]*entry)}
}

// OnExpire sets the callback run, outside any lock, when a countdown hits zero.
func (m *Manager) OnExpire(f ExpireFunc) {
	m.mu.Lock()
	m.onExpire = f
	m.mu.Unlock()
}

func (m *Manager) Hold() int { return m.hold }

func (m *Manager) Start(tableID string) { m.StartWith(tableID, m.hold) }

// StartWith arms a countdown with an explicit number of ticks left.
// A non-positive value expires the table immediately.
func (m *Manager) StartWith(tableID string, remaining int) {
	if remaining <= 0 {
		m.Cancel(tableID)
		m.fire(tableID)
		return
	}
	e := &entry{remaining: remaining, stop: make(chan struct{})}
	m.mu.Lock()
	if old, ok := m.entries[tableID]; ok {
		close(old.stop)
	}
	m.entries[tableID] = e
	m.mu.Unlock()

	go m.run(tableID, e)
}

func (m *Manager) run(tableID string, e *entry) {
	tk := time.NewTicker(m.interval)
	defer tk.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-tk.C:
			if m.tick(tableID, e) {
				return
			}
		}
	}
}

// tick decrements e and reports whether its goroutine should exit. Ticks of a
// countdown that was cancelled or replaced do nothing.
func (m *Manager) tick(tableID string, e *entry) bool {
	m.mu.Lock()
	if m.entries[tableID] != e {
		m.mu.Unlock()
		return true
	}
	e.remaining--
	if e.remaining > 0 {
		m.mu.Unlock()
		return false
	}
	delete(m.entries, tableID)
	m.mu.Unlock()

	m.fire(tableID)
	return true
}

func (m *Manager) fire(tableID string) {
	m.mu.Lock()
	f := m.onExpire
	m.mu.Unlock()
	if f != nil {
		f(tableID)
	}
}

// Cancel stops a countdown without firing it. Unknown tables are a no-op.
func (m *Manager) Cancel(tableID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended != nil {
		delete(m.suspended.Countdowns, tableID)
	}
	e, ok := m.entries[tableID]
	if !ok {
		return false
	}
	close(e.stop)
	delete(m.entries, tableID)
	return true
}

func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = nil
	for id, e := range m.entries {
		close(e.stop)
		delete(m.entries, id)
	}
}

func (m *Manager) Remaining(tableID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tableID]
	if !ok {
		return 0, false
	}
	return e.remaining, true
}

// Active lists tables with a running countdown, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Suspend snapshots every countdown and stops them all. Tables still
// suspended by an earlier call are carried over with their time recomputed
// at now, so calling Suspend twice returns everything that is paused.
func (m *Manager) Suspend(now time.Time) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	cd := make(map[string]int, len(m.entries))
	if m.suspended != nil {
		for id := range m.suspended.Countdowns {
			rem, _ := m.suspended.Remaining(id, now)
			cd[id] = rem
		}
	}
	for id, e := range m.entries {
		cd[id] = e.remaining
		close(e.stop)
		delete(m.entries, id)
	}
	kept := NewSnapshot(cd, now)
	m.suspended = &kept
	return NewSnapshot(cd, now)
}

// Suspended returns the countdowns paused by the last Suspend, or an empty
// snapshot when nothing is paused.
func (m *Manager) Suspended() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended == nil || m.suspended.Empty() {
		return Snapshot{Countdowns: map[string]int{}}
	}
	return NewSnapshot(m.suspended.Countdowns, m.suspended.Started())
}

// Resume re-arms tables from s that still have time left at now and fires
// the expiry callback for the rest. Paused tables not named in s stay paused.
func (m *Manager) Resume(s Snapshot, now time.Time) (armed map[string]int, expired []string) {
	m.mu.Lock()
	if m.suspended != nil {
		for id := range s.Countdowns {
			delete(m.suspended.Countdowns, id)
		}
		if m.suspended.Empty() {
			m.suspended = nil
		}
	}
	m.mu.Unlock()

	live, expired := s.Recompute(now)
	for id, rem := range live {
		m.StartWith(id, rem)
	}
	for _, id := range expired {
		m.Cancel(id)
		m.fire(id)
	}
	return live, expired
}
