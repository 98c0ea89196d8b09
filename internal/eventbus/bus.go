package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultInboxSize is the default bounded-inbox capacity per subscriber.
const DefaultInboxSize = 1024

// Subscriber receives events from a Bus over its own bounded inbox.
// Handle is invoked by the Bus's per-subscriber pump goroutine, never by
// the publisher, so a slow Handle only ever backs up that subscriber's own
// inbox (see Bus.Publish).
type Subscriber interface {
	Handle(Event)
}

// SubscriberFunc adapts a function to a Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) Handle(e Event) { f(e) }

type subscription struct {
	name   string
	inbox  chan Event
	done   chan struct{}
}

// Bus is a non-blocking fan-out of Events to subscribers. Each subscriber
// owns a bounded inbox; if it is full when Publish is called, the event is
// dropped for that subscriber only and a counter is incremented. Publishers
// never block on a slow consumer.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	seq  uint64

	dropped   *prometheus.CounterVec
	published prometheus.Counter
}

// NewBus constructs an empty Bus. reg may be nil to skip metrics
// registration (useful in tests).
func NewBus(reg prometheus.Registerer) *Bus {
	b := &Bus{
		subs: make(map[string]*subscription),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scp81_admin",
			Name:      "eventbus_dropped_total",
			Help:      "Events dropped because a subscriber's inbox was full.",
		}, []string{"subscriber"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scp81_admin",
			Name:      "eventbus_published_total",
			Help:      "Events published to the bus.",
		}),
	}
	if reg != nil {
		reg.MustRegister(b.dropped, b.published)
	}
	return b
}

// Subscribe registers a Subscriber under name with a bounded inbox of
// inboxSize (DefaultInboxSize if <= 0) and starts its delivery pump.
// Re-subscribing under the same name replaces the previous subscription.
func (b *Bus) Subscribe(name string, inboxSize int, sub Subscriber) {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	s := &subscription{
		name:  name,
		inbox: make(chan Event, inboxSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[name]; ok {
		close(old.done)
	}
	b.subs[name] = s
	b.mu.Unlock()

	go func() {
		for {
			select {
			case e, ok := <-s.inbox:
				if !ok {
					return
				}
				sub.Handle(e)
			case <-s.done:
				return
			}
		}
	}()
}

// Unsubscribe stops delivery to the named subscriber and releases its inbox.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[name]; ok {
		close(s.done)
		delete(b.subs, name)
	}
}

// Publish assigns the next sequence number and timestamp-stamped event (the
// caller is expected to have set every other field) to every subscriber's
// inbox. It never blocks: a full inbox drops the event for that subscriber
// and increments the dropped counter.
//
// Within a single subscriber's inbox, delivery order matches publish order
// for events that are not dropped.
func (b *Bus) Publish(e Event) {
	e.Seq = atomic.AddUint64(&b.seq, 1)
	e.Time = time.Now()
	b.published.Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.inbox <- e:
		default:
			b.dropped.WithLabelValues(s.name).Inc()
		}
	}
}

// NextSeq returns the sequence number that would be assigned to the next
// published event, without publishing anything. Used by diagnostics.
func (b *Bus) NextSeq() uint64 {
	return atomic.LoadUint64(&b.seq) + 1
}
