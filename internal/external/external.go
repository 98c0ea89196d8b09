// Package external names the interfaces the admin server's out-of-scope
// collaborators (PC/SC provisioning, ADB device control, the persistent
// database, the web dashboard, the CLI, the virtual-card simulator) are
// expected to implement when they attach to the core. None of these are
// implemented here — only the small, explicit surface the core talks to
// is, keeping a pluggable backend down to an interface abstraction with a
// small, explicit method set. Minimal in-memory stand-ins live beside the
// interfaces for use in tests only.
package external

import (
	"sync"
	"time"

	"github.com/scp81/admin-server/internal/eventbus"
)

// AuditSink is what the persistent database / log-writer subscriber
// implements: it receives every published Event and is expected to
// append it to durable storage. The core never blocks on it (EventBus's
// drop-on-full policy applies uniformly).
type AuditSink interface {
	eventbus.Subscriber
}

// DashboardSubscriber is what the web dashboard implements: same shape
// as AuditSink, kept as a distinct name because the two collaborators
// have different operational expectations (a dashboard may legitimately
// fall behind and drop events; an audit sink dropping events is a
// configuration bug for its operator to notice).
type DashboardSubscriber interface {
	eventbus.Subscriber
}

// ProvisionerHint is the narrow read-only view the PC/SC provisioner and
// the SMS-PP trigger sender need of a card identity's queue state, so
// they can decide whether to push a new script or wait for the current
// one to drain. It intentionally exposes no mutation.
type ProvisionerHint interface {
	PendingScripts(identity string) int
	LastSeen(identity string) (time.Time, bool)
}

// MemorySink is a minimal AuditSink/DashboardSubscriber used only by
// tests that need to assert on the event stream without standing up a
// real external subscriber.
type MemorySink struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (m *MemorySink) Handle(e eventbus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MemorySink) Events() []eventbus.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]eventbus.Event, len(m.events))
	copy(out, m.events)
	return out
}
