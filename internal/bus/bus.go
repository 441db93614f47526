// Package bus is the in-process event fan-out between the monitor's
// producers (collectors, stream readers, alert engine) and its consumers
// (SSE clients, the optional NATS mirror, tests). Publishing never blocks:
// a subscriber that cannot keep up loses events rather than stalling a
// collector tick.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Bus struct {
	mx      sync.Mutex
	subs    []*Subscription
	dropped uint64
}

type Subscription struct {
	Ch chan Event

	id    string
	types map[EventType]struct{}
	bus   *Bus

	mx     sync.Mutex
	closed bool
	once   sync.Once
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber with the given buffer size. With no
// types given the subscription receives every event.
func (b *Bus) Subscribe(buffer int, types ...EventType) *Subscription {
	if buffer <= 0 {
		buffer = 10
	}

	s := &Subscription{
		Ch:  make(chan Event, buffer),
		id:  uuid.NewString(),
		bus: b,
	}

	if len(types) > 0 {
		s.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mx.Lock()
	b.subs = append(b.subs, s)
	b.mx.Unlock()

	return s
}

// Publish delivers the event to every matching subscriber. Full buffers
// drop the event for that subscriber only.
func (b *Bus) Publish(t EventType, payload interface{}) {
	ev := Event{
		Type:      t,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mx.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mx.Unlock()

	for _, s := range subs {
		if s.types != nil {
			if _, ok := s.types[t]; !ok {
				continue
			}
		}

		if s.send(ev) {
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

// send delivers the event unless the subscription already closed its
// channel. The lock serializes against Close so a concurrent Close can
// never turn a delivery into a send on a closed channel. Reports whether
// the event was dropped on a full buffer.
func (s *Subscription) send(ev Event) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.Ch <- ev:
		return false
	default:
		return true
	}
}

// Dropped reports how many events were discarded because of full
// subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Close removes the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mx.Lock()
		for i, sub := range b.subs {
			if sub.id == s.id {
				b.subs[i] = b.subs[len(b.subs)-1]
				b.subs = b.subs[:len(b.subs)-1]
				break
			}
		}
		b.mx.Unlock()

		s.mx.Lock()
		s.closed = true
		close(s.Ch)
		s.mx.Unlock()
	})
}
