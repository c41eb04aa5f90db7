package event

import (
	"sync"
	"sync/atomic"

	infinity "github.com/Code-Hex/go-infinity-channel"
	"github.com/sirupsen/logrus"
)

// Observer receives lifecycle events. Notify is called from a goroutine owned
// by the bus, one event at a time and in publish order.
type Observer interface {
	Notify(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) {
	f(e)
}

type subscription struct {
	observer Observer
	queue    *infinity.Channel[Event]
	stopped  atomic.Bool
	done     chan struct{}
}

func (s *subscription) deliver() {
	defer close(s.done)
	for e := range s.queue.Out() {
		if s.stopped.Load() {
			continue
		}
		s.notify(e)
	}
}

func (s *subscription) notify(e Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("event observer panicked on %s: %v", e, r)
		}
	}()
	s.observer.Notify(e)
}

// Bus fans events out to subscribers. Each subscriber owns an unbounded queue
// so Publish never waits on a slow observer.
type Bus struct {
	mu       sync.Mutex
	subs     map[uint64]*subscription
	draining []*subscription
	nextID   uint64
	closed   bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers o and returns a function that removes it again.
// Subscribing to a closed bus is a no-op.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	sub := &subscription{
		observer: o,
		queue:    infinity.NewChannel[Event](),
		done:     make(chan struct{}),
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	go sub.deliver()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.stopped.Store(true)
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				sub.queue.Close()
			}
		})
	}
}

// Publish enqueues e for every subscriber. It returns false once the bus is closed.
func (b *Bus) Publish(e Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	for _, sub := range b.subs {
		sub.queue.In() <- e
	}
	return true
}

// Close stops accepting events. Already queued events are still delivered.
// Close does not wait for delivery, so an observer may call it.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.queue.Close()
		b.draining = append(b.draining, sub)
		delete(b.subs, id)
	}
}

// Done returns a channel that is closed once the bus is closed and every
// subscriber has been handed its last event.
func (b *Bus) Done() <-chan struct{} {
	b.mu.Lock()
	var waits []chan struct{}
	for _, sub := range b.subs {
		waits = append(waits, sub.done)
	}
	for _, sub := range b.draining {
		waits = append(waits, sub.done)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, w := range waits {
			<-w
		}
		close(done)
	}()
	return done
}
