// README: Broker abstraction with an in-process implementation for single-node deployments.
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrSubscriptionClosed = errors.New("subscription closed")
	// ErrSubscriberLagged ends a subscription whose buffer overflowed. The
	// channel reconnects and refetches like after any other transport error.
	ErrSubscriberLagged = errors.New("subscriber lagged behind")
)

// Broker is the pub/sub transport channels subscribe through.
type Broker interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscription yields messages in the order the transport delivered them.
// Next returns an error when the subscription broke and must be re-established.
type Subscription interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// MemoryBroker fans messages out to in-process subscribers. Publish never
// waits on a subscriber: one whose buffer is full is cut off with
// ErrSubscriberLagged so the others keep receiving.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memSub]struct{}
	buffer int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memSub]struct{}), buffer: 64}
}

type memSub struct {
	broker *MemoryBroker
	topic  string
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	lagged atomic.Bool
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s := &memSub{
		broker: b,
		topic:  topic,
		ch:     make(chan []byte, b.buffer),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memSub]struct{})
	}
	b.subs[topic][s] = struct{}{}
	return s, nil
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	subs := make([]*memSub, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		case <-s.done:
		default:
			s.lagged.Store(true)
			_ = s.Close()
		}
	}
	return nil
}

// Subscribers reports how many live subscriptions a topic has.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (s *memSub) Next(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		if s.lagged.Load() {
			return nil, ErrSubscriberLagged
		}
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.broker.mu.Lock()
		delete(s.broker.subs[s.topic], s)
		if len(s.broker.subs[s.topic]) == 0 {
			delete(s.broker.subs, s.topic)
		}
		s.broker.mu.Unlock()
	})
	return nil
}
