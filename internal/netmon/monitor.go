// Package netmon tracks network reachability and notifies subscribers of
// settled transitions.
//
// Raw observations come from Report (an OS hook or the HTTP Prober). A
// change is only published after it has held for the settle window, so
// a connection that flaps and returns inside the window produces no
// notification at all.
package netmon

import (
	"sync"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
)

// DefaultSettle is the default debounce window.
const DefaultSettle = 500 * time.Millisecond

// Status is a published connectivity state.
type Status struct {
	Online bool      `json:"online"`
	Since  time.Time `json:"since"`
}

type subscriber struct {
	id int
	fn func(Status)
}

// Monitor holds the published connectivity state.
type Monitor struct {
	clock  clock.Clock
	settle time.Duration

	mu        sync.Mutex
	published Status
	raw       bool
	timer     *clock.Timer
	timerGen  uint64
	subs      []subscriber
	nextID    int
}

// New creates a Monitor whose initial published state is online.
func New(clk clock.Clock, settle time.Duration, online bool) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Monitor{
		clock:     clk,
		settle:    settle,
		published: Status{Online: online, Since: clk.Now()},
		raw:       online,
	}
}

// Current returns the published state.
func (m *Monitor) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// Online is shorthand for Current().Online.
func (m *Monitor) Online() bool {
	return m.Current().Online
}

// Subscribe registers fn for every published transition. fn runs on the
// goroutine that settles the change and must not block. The returned
// func removes the subscription.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Report records a raw observation.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	m.raw = online

	if online == m.published.Online {
		// Flapped back before settling.
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.mu.Unlock()
		return
	}

	if m.settle <= 0 {
		m.mu.Unlock()
		m.settleNow(0)
		return
	}

	if m.timer == nil {
		m.timerGen++
		gen := m.timerGen
		m.timer = m.clock.AfterFunc(m.settle, func() { m.settleNow(gen) })
	}
	m.mu.Unlock()
}

// settleNow publishes the raw state if it still differs. gen identifies the
// timer that fired, or is 0 for an immediate settle; a timer that has been
// stopped or replaced since it was armed is ignored.
func (m *Monitor) settleNow(gen uint64) {
	m.mu.Lock()
	if gen != 0 {
		if m.timer == nil || gen != m.timerGen {
			m.mu.Unlock()
			return
		}
		m.timer = nil
	}
	if m.raw == m.published.Online {
		m.mu.Unlock()
		return
	}
	m.published = Status{Online: m.raw, Since: m.clock.Now()}
	status := m.published
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	logging.Info("network status changed", map[string]interface{}{
		"online":      status.Online,
		"subscribers": len(subs),
	})
	for _, s := range subs {
		s.fn(status)
	}
}

// Close cancels a pending settle.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
