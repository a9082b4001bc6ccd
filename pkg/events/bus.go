package events

import (
	"sync"
	"sync/atomic"

	"tradecore/pkg/exchange"
)

// DefaultCapacity is sized for the event burst of a renewal/reconnect
// cycle across all accounts.
const DefaultCapacity = 20000

// Bus broadcasts canonical exchange events to any number of subscribers.
//
// Publishing is non-blocking and never fails: each subscriber owns a
// bounded buffer, and a subscriber that falls behind loses its oldest
// unread events rather than stalling the publisher or its peers. This is a
// deliberate contract — correctness of the trading core rests on
// REST-derived state, so lossy fan-out of push confirmations is acceptable.
// Subscribers only observe events published after they attach.
type Bus struct {
	mu       sync.RWMutex
	capacity int
	subs     map[*Subscription]struct{}
	closed   bool
}

// Subscription is a receive-only attachment to the bus.
type Subscription struct {
	bus     *Bus
	ch      chan exchange.Event
	dropped atomic.Int64
	once    sync.Once
}

// NewBus constructs a bus; capacity <= 0 selects DefaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe attaches a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{bus: b, ch: make(chan exchange.Event, b.capacity)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers the event to every live subscriber without blocking.
// A full subscriber buffer sheds its oldest unread event first, so each
// subscriber always observes an ordered subset of the published sequence.
func (b *Bus) Publish(ev exchange.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		// Buffer full: drop the oldest unread event to make room. The
		// second send can still miss if the subscriber drains concurrently;
		// then the slot reappeared and the send below succeeds, or another
		// publisher filled it and this event is the one shed.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close detaches all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Events is the subscriber's receive channel. It is closed when the
// subscription or the bus closes.
func (s *Subscription) Events() <-chan exchange.Event { return s.ch }

// Dropped reports how many events this subscriber has lost to
// backpressure since attaching.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.ch)
		}
	})
}
