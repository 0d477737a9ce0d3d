package relay

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrBrokerClosed = errors.New("relay: broker closed")

const memBrokerBuffer = 4096

// MemBroker is an in-process Broker. Slow subscribers lose messages rather
// than block publishers.
type MemBroker struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	closed bool
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, memBrokerBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(ch, topics)
	}()
	return ch, nil
}

// unsubscribe detaches ch and closes it unless Close already did.
func (b *MemBroker) unsubscribe(ch chan Message, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, t := range topics {
		list := slices.DeleteFunc(b.subs[t], func(c chan Message) bool { return c == ch })
		if len(list) == 0 {
			delete(b.subs, t)
		} else {
			b.subs[t] = list
		}
	}
	close(ch)
}

// Close ends every subscription.
func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	seen := make(map[chan Message]struct{})
	for _, list := range b.subs {
		for _, ch := range list {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			close(ch)
		}
	}
	b.subs = nil
	return nil
}

func (b *MemBroker) topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
