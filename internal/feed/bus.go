package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bnstream.com/internal/feed/feedmetrics"
)

// DefaultBusCapacity is the per-subscription backlog used when none is configured.
const DefaultBusCapacity = 32

var (
	ErrBusClosed          = errors.New("feed: bus closed")
	ErrSubscriptionClosed = errors.New("feed: subscription closed")
	ErrNoSubscribers      = errors.New("feed: no live subscribers")
	ErrEmpty              = errors.New("feed: no frame available")
)

// LaggedError is returned once by Recv after the backlog overflowed. Missed
// frames were the oldest unread ones; the next Recv continues in order.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("feed: subscription lagged, %d frames missed", e.Missed)
}

// Bus fans raw frames out to every live Subscription. Each subscription owns a
// bounded ring, so a slow consumer loses its oldest frames instead of stalling
// Publish.
//
// Frames are shared between subscriptions and must be treated as read-only.
type Bus struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	capacity int
	closed   bool
}

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{
		subs:     make(map[*Subscription]struct{}, 8),
		capacity: capacity,
	}
}

// Subscribe returns a subscription that sees frames published from now on.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	s := &Subscription{
		bus:    b,
		ring:   make([][]byte, b.capacity),
		notify: make(chan struct{}, 1),
	}
	b.subs[s] = struct{}{}
	feedmetrics.BusSubscribers.Inc()
	return s, nil
}

// Publish appends frame to every subscription backlog and reports how many
// received it. It fails with ErrNoSubscribers when nobody is listening.
func (b *Bus) Publish(frame []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBusClosed
	}
	if len(b.subs) == 0 {
		return 0, ErrNoSubscribers
	}
	for s := range b.subs {
		s.push(frame)
	}
	return len(b.subs), nil
}

// Close ends every subscription. Buffered frames stay readable; after them
// Recv returns ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	clear(b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		feedmetrics.BusSubscribers.Dec()
		s.end(ErrBusClosed)
	}
}

// Len is the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		feedmetrics.BusSubscribers.Dec()
	}
	b.mu.Unlock()
}

// Subscription is one consumer's view of a Bus. Recv is meant to be called
// from a single goroutine.
type Subscription struct {
	bus   *Bus
	owner any // keeps the producing Client alive while this is in use

	mu     sync.Mutex
	ring   [][]byte
	head   int
	n      int
	missed uint64
	err    error // set once the subscription can no longer receive

	notify    chan struct{} // cap 1, coalesces wakeups
	closeOnce sync.Once
}

func (s *Subscription) push(frame []byte) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	if s.n == len(s.ring) {
		// full: drop the oldest unread frame
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.n--
		s.missed++
		feedmetrics.LaggedFramesTotal.Inc()
	}
	s.ring[(s.head+s.n)%len(s.ring)] = frame
	s.n++
	s.mu.Unlock()

	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) end(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.wake()
}

// TryRecv returns the next frame without waiting. It reports a *LaggedError
// before anything else if frames were dropped, ErrEmpty when nothing is
// buffered, and the terminal error once the subscription ended and is drained.
func (s *Subscription) TryRecv() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.missed > 0 {
		missed := s.missed
		s.missed = 0
		return nil, &LaggedError{Missed: missed}
	}
	if s.n > 0 {
		frame := s.ring[s.head]
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.n--
		return frame, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, ErrEmpty
}

// Recv blocks until a frame arrives, the subscription ends or ctx is done.
func (s *Subscription) Recv(ctx context.Context) ([]byte, error) {
	for {
		frame, err := s.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return frame, err
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the subscription from its bus and drops anything buffered.
// Other subscriptions are unaffected.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		s.owner = nil

		s.mu.Lock()
		clear(s.ring)
		s.n = 0
		s.missed = 0
		if s.err == nil {
			s.err = ErrSubscriptionClosed
		}
		s.mu.Unlock()
		s.wake()
	})
}
