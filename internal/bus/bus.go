// internal/bus/bus.go
// Provides the in-memory fan-out bus that carries accepted messages to every connection.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/erilali/chatrelay/internal/message"
)

// DefaultBufferSize is the per-subscriber queue length used when none is given.
const DefaultBufferSize = 256

// ErrClosed is returned by Next once the subscription or the bus is closed.
var ErrClosed = errors.New("bus: subscription closed")

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets how many undelivered messages each subscriber may hold.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithDropHandler registers fn to be called each time a lagging
// subscriber loses its oldest queued message.
func WithDropHandler(fn func()) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// Bus is a multi-producer, multi-consumer broadcast conduit. Publish never
// blocks on a subscriber: when a subscriber's queue is full its oldest
// message is discarded to make room. Each subscriber sees messages in
// publish order, minus whatever it dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	size   int
	closed bool
	onDrop func()
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[uint64]*Subscription),
		size: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a private receive handle. It only sees messages
// published after this call. Subscribing to a closed bus returns a handle
// that is already closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		id:    b.nextID,
		bus:   b,
		buf:   make([]message.Message, b.size),
		ready: make(chan struct{}, 1),
	}
	b.nextID++
	if b.closed {
		s.shut()
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish hands msg to every current subscriber and returns how many there were.
func (b *Bus) Publish(msg message.Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.push(msg) && b.onDrop != nil {
			b.onDrop()
		}
	}
	return len(b.subs)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later Publish calls reach nobody.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shut()
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one consumer's bounded queue on the bus.
type Subscription struct {
	id  uint64
	bus *Bus

	mu      sync.Mutex
	buf     []message.Message
	head    int
	count   int
	closed  bool
	dropped uint64
	ready   chan struct{}
}

// push enqueues msg and reports whether an older message was dropped.
func (s *Subscription) push(msg message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	dropped := false
	size := len(s.buf)
	if s.count == size {
		s.buf[s.head] = message.Message{}
		s.head = (s.head + 1) % size
		s.count--
		s.dropped++
		dropped = true
	}
	s.buf[(s.head+s.count)%size] = msg
	s.count++

	// signalled under mu so shut cannot close ready in between
	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) pop() (message.Message, bool) {
	if s.count == 0 {
		return message.Message{}, false
	}
	msg := s.buf[s.head]
	s.buf[s.head] = message.Message{}
	s.head = (s.head + 1) % len(s.buf)
	s.count--
	return msg, true
}

// Next blocks until a message is available, the subscription is closed or
// ctx is done. Queued messages are still handed out after ctx is done only
// if they were already waiting.
func (s *Subscription) Next(ctx context.Context) (message.Message, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return message.Message{}, ErrClosed
		}
		if msg, ok := s.pop(); ok {
			s.mu.Unlock()
			return msg, nil
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued, undelivered messages.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Dropped returns how many messages this subscriber lost to lag.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.shut()
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.head, s.count = 0, 0
	s.buf = nil
	close(s.ready)
}
