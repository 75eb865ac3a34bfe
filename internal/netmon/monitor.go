package netmon

import (
	"fmt"
	"sync"
	"time"

	"v2ray-session/internal/core"
)

// SwitchFunc is called for each accepted WiFi↔Cellular switch.
type SwitchFunc func(from, to Category)

// Monitor filters path updates down to genuine network switches.
//
// An update triggers only when the path is satisfied, is WiFi or Cellular,
// arrives at least minInterval after the last trigger, and differs from the
// last triggering category. The first such update is the baseline and does
// not start the interval.
type Monitor struct {
	source      PathSource
	minInterval time.Duration
	now         func() time.Time

	mu         sync.Mutex
	running    bool
	onSwitch   SwitchFunc
	last       Category  // last triggering category, Unknown before baseline
	lastUpdate time.Time // last trigger, zero until the first switch
	observed   Category
	inflight   sync.WaitGroup
}

// NewMonitor creates a stopped monitor. minInterval is raised to one second.
func NewMonitor(source PathSource, minInterval time.Duration) *Monitor {
	return &Monitor{
		source:      source,
		minInterval: max(minInterval, time.Second),
		now:         time.Now,
	}
}

// Start subscribes to path updates. Starting a running monitor restarts it
// with fresh state.
func (m *Monitor) Start(onSwitch SwitchFunc) error {
	m.Stop()

	m.mu.Lock()
	m.running = true
	m.onSwitch = onSwitch
	m.last = Unknown
	m.observed = Unknown
	m.lastUpdate = time.Time{}
	m.mu.Unlock()

	if err := m.source.Start(m.handle); err != nil {
		m.mu.Lock()
		m.running = false
		m.onSwitch = nil
		m.mu.Unlock()
		return fmt.Errorf("[NetMon] start path source: %w", err)
	}
	core.Log.Debugf("NetMon", "Network monitor started")
	return nil
}

// Stop detaches from the path source and forgets all state. No switch
// callback starts after Stop returns. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.onSwitch = nil
	m.last = Unknown
	m.observed = Unknown
	m.lastUpdate = time.Time{}
	m.mu.Unlock()

	if err := m.source.Stop(); err != nil {
		core.Log.Warnf("NetMon", "Stop path source: %v", err)
	}
	m.inflight.Wait()
	core.Log.Debugf("NetMon", "Network monitor stopped")
}

// Observed returns the most recently observed category, triggering or not.
func (m *Monitor) Observed() Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observed
}

func (m *Monitor) handle(p Path) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	from, fire := m.filter(p)
	cb := m.onSwitch
	if fire {
		m.inflight.Add(1)
	}
	m.mu.Unlock()

	if !fire {
		return
	}
	defer m.inflight.Done()
	core.Log.Infof("NetMon", "Network switched: %s → %s", from, p.Category)
	cb(from, p.Category)
}

// filter updates state for p and reports whether it is a switch. Caller holds mu.
func (m *Monitor) filter(p Path) (Category, bool) {
	if p.Satisfied {
		m.observed = p.Category
	}
	if !p.Satisfied || (p.Category != WiFi && p.Category != Cellular) {
		return Unknown, false
	}
	now := m.now()
	if m.last == Unknown {
		m.last = p.Category
		core.Log.Debugf("NetMon", "Baseline network: %s", p.Category)
		return Unknown, false
	}
	if p.Category == m.last {
		return Unknown, false
	}
	if !m.lastUpdate.IsZero() && now.Sub(m.lastUpdate) < m.minInterval {
		core.Log.Debugf("NetMon", "Ignoring %s → %s within %s", m.last, p.Category, m.minInterval)
		return Unknown, false
	}
	from := m.last
	m.last = p.Category
	m.lastUpdate = now
	return from, true
}
