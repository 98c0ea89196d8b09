// Package securitymonitor implements sliding-window abuse counters: PSK
// mismatches, handshake failures and APDU error responses, each bucketed
// per window, that raise an alert once a configurable threshold is
// crossed. The window itself is the simplest possible ring of
// timestamps, pruned lazily on each observation; counts are exported as
// prometheus counters via client_golang.
package securitymonitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind identifies which sliding window an observation belongs to.
type Kind int

const (
	KindMismatch Kind = iota
	KindHandshakeFailure
	KindAPDUError
)

// WindowConfig configures one Kind's window and alert threshold.
type WindowConfig struct {
	Window    time.Duration
	Threshold int
}

// Config configures all three windows; zero values take DefaultConfig's
// values.
type Config struct {
	Mismatch         WindowConfig
	HandshakeFailure WindowConfig
	APDUError        WindowConfig
}

func DefaultConfig() Config {
	return Config{
		Mismatch:         WindowConfig{Window: 60 * time.Second, Threshold: 3},
		HandshakeFailure: WindowConfig{Window: 60 * time.Second, Threshold: 10},
		APDUError:        WindowConfig{Window: 300 * time.Second, Threshold: 10},
	}
}

// AlertFunc is invoked outside the counters' critical section whenever a
// threshold is crossed.
type AlertFunc func(alert Alert)

// Alert describes a threshold crossing.
type Alert struct {
	Kind     Kind
	Peer     string
	Identity string
}

type window struct {
	mu     sync.Mutex
	times  []time.Time
	cfg    WindowConfig
	counter prometheus.Counter
}

func (w *window) observe(now time.Time) (crossed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-w.cfg.Window)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	w.times = kept
	if w.counter != nil {
		w.counter.Inc()
	}
	return len(w.times) >= w.cfg.Threshold
}

// Monitor groups the per-peer mismatch window, the process-wide
// handshake-failure window, and the per-identity APDU-error window.
type Monitor struct {
	cfg     Config
	onAlert AlertFunc

	mu           sync.Mutex
	mismatchByPeer map[string]*window
	apduByIdentity map[string]*window

	handshakeFailures *window

	mismatchTotal  prometheus.Counter
	handshakeTotal prometheus.Counter
	apduErrTotal   prometheus.Counter
}

// New constructs a Monitor. reg may be nil to skip metrics registration
// (used by tests).
func New(cfg Config, onAlert AlertFunc, reg prometheus.Registerer) *Monitor {
	if cfg.Mismatch.Window == 0 {
		cfg.Mismatch = DefaultConfig().Mismatch
	}
	if cfg.HandshakeFailure.Window == 0 {
		cfg.HandshakeFailure = DefaultConfig().HandshakeFailure
	}
	if cfg.APDUError.Window == 0 {
		cfg.APDUError = DefaultConfig().APDUError
	}

	m := &Monitor{
		cfg:            cfg,
		onAlert:        onAlert,
		mismatchByPeer: make(map[string]*window),
		apduByIdentity: make(map[string]*window),
		mismatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scp81_admin_mismatch_total",
			Help: "Total PSK identity mismatches observed.",
		}),
		handshakeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scp81_admin_handshake_failures_total",
			Help: "Total handshake failures of any cause.",
		}),
		apduErrTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scp81_admin_apdu_errors_total",
			Help: "Total APDU-level error responses.",
		}),
	}
	m.handshakeFailures = &window{cfg: cfg.HandshakeFailure, counter: m.handshakeTotal}
	if reg != nil {
		reg.MustRegister(m.mismatchTotal, m.handshakeTotal, m.apduErrTotal)
	}
	return m
}

// RecordMismatch registers a PSK identity mismatch from peer and raises
// SuspectedBruteForce once the per-peer threshold is crossed within the
// window.
func (m *Monitor) RecordMismatch(peer, identity string) {
	m.mu.Lock()
	w, ok := m.mismatchByPeer[peer]
	if !ok {
		w = &window{cfg: m.cfg.Mismatch, counter: m.mismatchTotal}
		m.mismatchByPeer[peer] = w
	}
	m.mu.Unlock()

	if w.observe(time.Now()) && m.onAlert != nil {
		m.onAlert(Alert{Kind: KindMismatch, Peer: peer, Identity: identity})
	}
}

// RecordHandshakeFailure registers a failed handshake for any cause and
// raises HandshakeFailureSpike once the process-wide threshold is crossed.
func (m *Monitor) RecordHandshakeFailure(peer string) {
	if m.handshakeFailures.observe(time.Now()) && m.onAlert != nil {
		m.onAlert(Alert{Kind: KindHandshakeFailure, Peer: peer})
	}
}

// RecordAPDUError registers an APDU-level error response for identity and
// raises HighErrorRate once that identity's threshold is crossed.
func (m *Monitor) RecordAPDUError(identity string) {
	m.mu.Lock()
	w, ok := m.apduByIdentity[identity]
	if !ok {
		w = &window{cfg: m.cfg.APDUError, counter: m.apduErrTotal}
		m.apduByIdentity[identity] = w
	}
	m.mu.Unlock()

	if w.observe(time.Now()) && m.onAlert != nil {
		m.onAlert(Alert{Kind: KindAPDUError, Identity: identity})
	}
}
