// Package netmon tracks whether the remote store is reachable.
//
// Two inputs drive the Offline/Online state: an external connectivity
// signal (SetOnline) and a periodic liveness probe (Run). Every change is
// published to subscribers; the sync engine drains on Offline to Online.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
)

const (
	DefaultPollInterval = time.Second
	DefaultProbeTimeout = 2 * time.Second

	subscriberBuffer = 16
)

// Transition is one change of connectivity.
type Transition struct {
	Online bool      `json:"online"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Sources of a transition.
const (
	SourceProbe  = "probe"
	SourceSignal = "signal"
)

// PendingCounter returns the number of not-yet-synced mutations.
type PendingCounter func(ctx context.Context) (int, error)

// Monitor is the Offline/Online state machine.
//
// Thread-safety: Monitor is safe for concurrent use.
type Monitor struct {
	prober   remote.Prober
	interval time.Duration
	timeout  time.Duration
	pending  PendingCounter
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	online bool
	subs   []chan Transition
	closed bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the liveness probe cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithProbeTimeout bounds one probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithPendingCounter sets the source of Status().UnsyncedOrders.
func WithPendingCounter(fn PendingCounter) Option {
	return func(m *Monitor) { m.pending = fn }
}

// WithInitialOnline sets the state before the first probe.
func WithInitialOnline(online bool) Option {
	return func(m *Monitor) { m.online = online }
}

// WithNow sets the clock used to stamp transitions.
func WithNow(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor. It starts offline unless WithInitialOnline says
// otherwise.
func New(prober remote.Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: DefaultPollInterval,
		timeout:  DefaultProbeTimeout,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes the remote store every poll interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one liveness check and applies its outcome.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return m.IsOnline()
	}
	online := err == nil
	if !online {
		m.logger.Debug("liveness probe failed", "error", err)
	}
	m.set(online, SourceProbe)
	return online
}

// SetOnline applies the external connectivity signal.
func (m *Monitor) SetOnline(online bool) {
	m.set(online, SourceSignal)
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe returns a channel receiving every subsequent transition.
// A subscriber that stops reading misses transitions rather than blocking
// the monitor. The channel is closed by Close.
func (m *Monitor) Subscribe() <-chan Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Transition, subscriberBuffer)
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// Status is the cheap projection polled by the UI.
func (m *Monitor) Status(ctx context.Context) domain.NetworkStatus {
	st := domain.NetworkStatus{IsOnline: m.IsOnline()}
	if m.pending == nil {
		return st
	}
	n, err := m.pending(ctx)
	if err != nil {
		m.logger.Warn("failed to count unsynced mutations", "error", err)
		return st
	}
	st.UnsyncedOrders = n
	return st
}

// Close closes every subscriber channel.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

func (m *Monitor) set(online bool, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online || m.closed {
		return
	}
	m.online = online
	tr := Transition{Online: online, Source: source, At: m.now().UTC()}
	m.logger.Info("connectivity changed", "online", online, "source", source)
	for _, ch := range m.subs {
		select {
		case ch <- tr:
		default:
			m.logger.Warn("dropping connectivity transition for slow subscriber", "online", online)
		}
	}
}
