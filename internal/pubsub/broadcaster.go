// Package pubsub is the in-process live push channel. Producers publish to a topic
// without ever blocking; every subscriber owns a bounded buffer and applies its own
// filter. Nothing is replayed to late subscribers.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

const defaultBufferSize = 64

// Policy decides what happens when a subscriber's buffer is full.
type Policy int

const (
	// DropOldest discards the oldest undelivered payload to make room.
	DropOldest Policy = iota
	// CloseSlow closes the subscription of a subscriber that cannot keep up.
	CloseSlow
)

// ParsePolicy maps a config value onto a Policy, defaulting to DropOldest.
func ParsePolicy(value string) Policy {
	switch value {
	case "close", "close_slow":
		return CloseSlow
	default:
		return DropOldest
	}
}

// Filter reports whether a payload is meant for a subscriber.
type Filter func(payload any) bool

// Options configure a Broadcaster.
type Options struct {
	BufferSize int
	Policy     Policy
}

// Broadcaster fans payloads out to the subscribers of a topic.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	policy Policy
	log    *zap.Logger

	// watchers counts goroutines tying subscriptions to their context.
	watchers atomic.Int64
}

// Subscription is one live subscriber. Receive from C until it is closed.
type Subscription struct {
	topic   string
	filter  Filter
	ch      chan any
	done    chan struct{}
	owner   *Broadcaster
	once    sync.Once
	closing atomic.Bool
	dropped atomic.Uint64
}

// New constructs a Broadcaster.
func New(opts Options) *Broadcaster {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &Broadcaster{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: opts.BufferSize,
		policy: opts.Policy,
		log:    logger.WithModule("pubsub"),
	}
}

// Subscribe registers a subscriber for topic. The subscription ends when ctx is done
// or Close is called; undelivered payloads are discarded.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string, filter Filter) *Subscription {
	sub := &Subscription{
		topic:  topic,
		filter: filter,
		ch:     make(chan any, b.buffer),
		done:   make(chan struct{}),
		owner:  b,
	}

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()
	metrics.PushSubscribers.WithLabelValues(topic).Inc()

	if ctx != nil && ctx.Done() != nil {
		b.watchers.Add(1)
		go func() {
			defer b.watchers.Add(-1)
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Publish offers payload to every subscriber of topic and returns how many accepted it.
// It never waits on a subscriber.
func (b *Broadcaster) Publish(topic string, payload any) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for sub := range b.topics[topic] {
		if sub.offer(payload, b.policy) {
			delivered++
		}
	}
	return delivered
}

// Subscribers reports how many subscribers topic currently has.
func (b *Broadcaster) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
	// The channel is closed under the write lock so no publisher can be sending on it.
	close(sub.ch)
	metrics.PushSubscribers.WithLabelValues(sub.topic).Dec()
}

// offer runs with the broadcaster read lock held.
func (s *Subscription) offer(payload any, policy Policy) bool {
	if s.closing.Load() {
		return false
	}
	if s.filter != nil && !s.filter(payload) {
		return false
	}

	select {
	case s.ch <- payload:
		metrics.PushDeliveries.WithLabelValues(s.topic, "delivered").Inc()
		return true
	default:
	}

	if policy == CloseSlow {
		if s.closing.CompareAndSwap(false, true) {
			metrics.PushDeliveries.WithLabelValues(s.topic, "evicted").Inc()
			s.owner.log.Warn("closing slow subscriber", zap.String("topic", s.topic))
			go s.Close()
		}
		return false
	}

	for {
		select {
		case <-s.ch:
			s.dropped.Add(1)
			metrics.PushDeliveries.WithLabelValues(s.topic, "dropped").Inc()
		default:
		}
		select {
		case s.ch <- payload:
			metrics.PushDeliveries.WithLabelValues(s.topic, "delivered").Inc()
			return true
		default:
		}
	}
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan any {
	return s.ch
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.closing.Store(true)
		s.owner.remove(s)
		close(s.done)
	})
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports how many payloads were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}
