package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription receives matching events on C until it is closed
type Subscription struct {
	ID string
	C  <-chan Event

	ch      chan Event
	matcher atomic.Pointer[Matcher]
	sent    atomic.Uint64
	dropped atomic.Uint64
	bus     *Bus
}

// SetMatcher replaces the subscription's filter
func (s *Subscription) SetMatcher(m *Matcher) {
	s.matcher.Store(m)
}

// Matcher returns the current filter
func (s *Subscription) Matcher() *Matcher {
	return s.matcher.Load()
}

// Delivered returns the number of events queued for this subscriber
func (s *Subscription) Delivered() uint64 { return s.sent.Load() }

// Dropped returns the number of events lost because the buffer was full
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes C
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.ID)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses the event and the loss is counted.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	bufferSize int

	published atomic.Uint64
	dropped   atomic.Uint64
	onDrop    func(Event)
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithDropHook is called for every dropped delivery
func WithDropHook(fn func(Event)) BusOption {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// NewBus creates a bus with the given per-subscriber buffer size
func NewBus(bufferSize int, opts ...BusOption) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	b := &Bus{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber with the given filter
func (b *Bus) Subscribe(m *Matcher) *Subscription {
	ch := make(chan Event, b.bufferSize)
	s := &Subscription{
		ID:  uuid.NewString(),
		C:   ch,
		ch:  ch,
		bus: b,
	}
	s.matcher.Store(m)

	b.mu.Lock()
	b.subs[s.ID] = s
	b.mu.Unlock()
	return s
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(s.ch)
	}
	b.mu.Unlock()
}

// Publish delivers e to every matching subscriber
func (b *Bus) Publish(e Event) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if m := s.matcher.Load(); m != nil && !m.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
	}
}

// Subscribers returns the number of active subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats reports totals since the bus was created
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Close removes every subscriber
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
