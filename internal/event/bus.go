package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lockergrid/core/internal/log"
	"github.com/lockergrid/core/internal/metrics"
)

// Message is the payload delivered to event-bus subscribers: a persisted
// Record plus its topic, so a single subscription channel can carry
// every kiosk's events and let the consumer filter.
type Message struct {
	Topic  string
	Record Record
}

// Bus is the abstract publication channel consumed by the out-of-scope
// WebSocket fan-out collaborator (spec §9 "abstract collaborators").
// Delivery is best-effort: persistence in the Logger is authoritative.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Subscriber reads messages published to the topic it was created for.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// MemoryBus is an in-process pub/sub. It is not durable; publication
// order per topic is preserved but delivery is dropped rather than
// blocked once a subscriber's buffer is full and its context ends.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("event: publish context is nil")
	}
	b.mu.RLock()
	chs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			reason := publishDropReason(ctx.Err())
			metrics.BusDropped.WithLabelValues(topic, reason).Inc()
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				log.L().Warn().Str("topic", topic).Str("reason", reason).
					Uint64("dropped", count).Msg("event bus failed to publish")
			}
			return fmt.Errorf("event: publish topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return &memSub{b: b, topic: topic, ch: ch}, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
}

func (s *memSub) C() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	close(s.ch)
	return nil
}

var _ Bus = (*MemoryBus)(nil)

// TopicAll receives every published record regardless of kiosk.
const TopicAll = "*"
