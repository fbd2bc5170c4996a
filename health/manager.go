package health

import (
	"sort"
	"sync"
)

// Manager owns the monitors of a set of targets, one per target name.
type Manager struct {
	defaults Config

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewManager returns a manager whose monitors inherit defaults for unset Config fields.
func NewManager(defaults Config) *Manager {
	return &Manager{
		defaults: defaults,
		monitors: make(map[string]*Monitor),
	}
}

// Start begins monitoring target, replacing (and stopping) any monitor already running for it.
func (m *Manager) Start(target string, p Probe, cfg Config) *Monitor {
	mon := NewMonitor(target, p, m.merge(cfg))

	m.mu.Lock()
	old := m.monitors[target]
	m.monitors[target] = mon
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	mon.Start()
	return mon
}

func (m *Manager) merge(cfg Config) Config {
	d := m.defaults
	if cfg.Interval == 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = d.RetryDelay
	}
	if cfg.OnChange == nil {
		cfg.OnChange = d.OnChange
	}
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = d.Metrics
	}
	return cfg
}

// Stop ends monitoring of target. It reports whether a monitor was running.
func (m *Manager) Stop(target string) bool {
	m.mu.Lock()
	mon, ok := m.monitors[target]
	delete(m.monitors, target)
	m.mu.Unlock()

	if ok {
		mon.Stop()
	}
	return ok
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	monitors := m.monitors
	m.monitors = make(map[string]*Monitor)
	m.mu.Unlock()

	for _, mon := range monitors {
		mon.Stop()
	}
}

func (m *Manager) Get(target string) (*Monitor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[target]
	return mon, ok
}

// Snapshots returns the state of every monitored target, ordered by target.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.monitors))
	for _, mon := range m.monitors {
		out = append(out, mon.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}
