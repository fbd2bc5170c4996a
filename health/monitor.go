// Package health polls RPC counterparts and tracks whether they respond.
//
// A Monitor moves between three states:
//
//	Unknown ──probe ok──► Healthy ──probe failed──► Unhealthy ──probe ok──► Healthy
//
// After a failure it probes again up to MaxRetries times, the n-th retry n×RetryDelay after
// the previous probe, before falling back to the regular Interval.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"framebridge/metrics"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HistorySize bounds the response-time history kept per target.
const HistorySize = 100

const (
	DefaultInterval   = 5 * time.Second
	DefaultTimeout    = 2 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// Config tunes a Monitor. Zero fields take the defaults; a negative MaxRetries disables
// retries.
type Config struct {
	Interval   time.Duration
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// OnChange is called, outside any lock, whenever the status changes.
	OnChange func(Snapshot)

	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
	return c
}

// Snapshot is a point-in-time view of a monitor.
type Snapshot struct {
	Target          string
	Status          Status
	Failures        int
	LastError       string
	LastKind        Kind
	LastCheck       time.Time
	AverageResponse time.Duration
	Samples         int
}

type Monitor struct {
	target string
	probe  Probe
	cfg    Config
	log    *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	mu        sync.Mutex
	status    Status
	failures  int
	retries   int
	lastErr   error
	lastKind  Kind
	lastCheck time.Time
	history   []time.Duration
	next      int // ring position once history is full
}

// NewMonitor returns a stopped monitor; call Start to begin polling.
func NewMonitor(target string, p Probe, cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		target: target,
		probe:  p,
		cfg:    cfg,
		log:    cfg.Logger.Named("health").With(zap.String("target", target)),
		done:   make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start begins polling. The first probe runs immediately.
func (m *Monitor) Start() {
	if m.started.CompareAndSwap(false, true) {
		go m.run()
	}
}

// Stop ends polling, cancels an in-flight probe and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		if m.started.CompareAndSwap(false, true) {
			close(m.done)
		}
		<-m.done
		m.cfg.Metrics.ForgetTarget(m.target)
	})
}

func (m *Monitor) Target() string { return m.target }

func (m *Monitor) run() {
	defer close(m.done)

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
		}
		_, next := m.check(m.ctx)
		if m.ctx.Err() != nil {
			return
		}
		t.Reset(next)
	}
}

// Check runs one probe now and records its outcome.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	snap, _ := m.check(ctx)
	return snap
}

func (m *Monitor) check(ctx context.Context) (Snapshot, time.Duration) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	start := time.Now()
	err := m.runProbe(pctx)
	elapsed := time.Since(start)
	cancel()

	if ctx.Err() != nil {
		// stopped mid-probe; the result says nothing about the target
		return m.Snapshot(), m.cfg.Interval
	}

	m.mu.Lock()
	prev := m.status
	m.lastCheck = start
	next := m.cfg.Interval
	if err == nil {
		m.failures = 0
		m.retries = 0
		m.lastErr = nil
		m.lastKind = KindNone
		m.status = StatusHealthy
		m.record(elapsed)
	} else {
		m.failures++
		m.lastErr = err
		m.lastKind = Classify(err)
		m.status = StatusUnhealthy
		if m.retries < m.cfg.MaxRetries {
			m.retries++
			next = time.Duration(m.retries) * m.cfg.RetryDelay
		} else {
			m.retries = 0
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.cfg.Metrics.Health(m.target, err == nil, elapsed.Seconds())
	if err != nil {
		m.log.Debug("probe failed", zap.Error(err), zap.Stringer("kind", snap.LastKind), zap.Int("failures", snap.Failures))
	}
	if snap.Status != prev {
		m.log.Info("health changed", zap.Stringer("from", prev), zap.Stringer("to", snap.Status))
		if m.cfg.OnChange != nil {
			m.cfg.OnChange(snap)
		}
	}
	return snap, next
}

func (m *Monitor) runProbe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return m.probe.Probe(ctx)
}

func (m *Monitor) record(d time.Duration) {
	if len(m.history) < HistorySize {
		m.history = append(m.history, d)
		return
	}
	m.history[m.next] = d
	m.next = (m.next + 1) % HistorySize
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	s := Snapshot{
		Target:    m.target,
		Status:    m.status,
		Failures:  m.failures,
		LastKind:  m.lastKind,
		LastCheck: m.lastCheck,
		Samples:   len(m.history),
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	if len(m.history) > 0 {
		var total time.Duration
		for _, d := range m.history {
			total += d
		}
		s.AverageResponse = total / time.Duration(len(m.history))
	}
	return s
}

func (m *Monitor) Healthy() bool {
	return m.Snapshot().Status == StatusHealthy
}
