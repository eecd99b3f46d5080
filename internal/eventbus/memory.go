package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

const defaultMemoryMaxDeliver = 5

// MemoryOptions configure an in-process bus.
type MemoryOptions struct {
	// MaxDeliver bounds redeliveries of a failing event. Defaults to 5.
	MaxDeliver int
	// RedeliveryDelay is the pause before a failed delivery is retried.
	RedeliveryDelay time.Duration
}

// MemoryBus is an in-process Bus with the same delivery rules as the broker backed one.
// It is used for single process development setups and tests.
type MemoryBus struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	closed bool
	opts   MemoryOptions
	wg     sync.WaitGroup
	log    *zap.Logger

	deadMu sync.Mutex
	dead   []Delivery
}

type memoryQueue struct {
	key      string
	exchange string
	pattern  string
	name     string
	handler  Handler

	mu      sync.Mutex
	pending []Delivery
	signal  chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus(opts MemoryOptions) *MemoryBus {
	if opts.MaxDeliver <= 0 {
		opts.MaxDeliver = defaultMemoryMaxDeliver
	}
	return &MemoryBus{
		queues: make(map[string]*memoryQueue),
		opts:   opts,
		log:    logger.WithModule("eventbus.memory"),
	}
}

// Publish copies the event into every queue bound to a matching routing key.
// Events for which no queue is bound are discarded, as with an unbound exchange.
func (b *MemoryBus) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := Encode(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		metrics.EventsPublished.WithLabelValues(routingKey, "error").Inc()
		return ErrClosed
	}

	for _, q := range b.queues {
		if q.exchange != exchange || !MatchTopic(q.pattern, routingKey) {
			continue
		}
		q.push(Delivery{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Queue:      q.name,
			Body:       append([]byte(nil), body...),
		})
	}
	metrics.EventsPublished.WithLabelValues(routingKey, "ok").Inc()
	return nil
}

// Subscribe binds queue to the exchange and starts a single ordered worker for it.
func (b *MemoryBus) Subscribe(ctx context.Context, exchange, routingKey, queue string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("eventbus: nil handler for queue %q", queue)
	}
	if queue == "" {
		return fmt.Errorf("eventbus: queue name is required")
	}

	key := exchange + "/" + queue
	q := &memoryQueue{
		key:      key,
		exchange: exchange,
		pattern:  routingKey,
		name:     queue,
		handler:  handler,
		signal:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if _, exists := b.queues[key]; exists {
		b.mu.Unlock()
		return fmt.Errorf("eventbus: queue %q already has a consumer", queue)
	}
	b.queues[key] = q
	b.wg.Add(1)
	b.mu.Unlock()

	go b.work(ctx, q)
	go func() {
		select {
		case <-ctx.Done():
			b.unbind(q)
		case <-q.stop:
		}
	}()

	b.log.Debug("queue bound",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.String("queue", queue))
	return nil
}

// Ping fails once the bus is closed.
func (b *MemoryBus) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops all workers, waiting for in-flight handlers until ctx expires.
func (b *MemoryBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	queues := make([]*memoryQueue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.queues = map[string]*memoryQueue{}
	b.mu.Unlock()

	for _, q := range queues {
		q.close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventbus: close: %w", ctx.Err())
	}
}

// DeadLetters returns deliveries that were given up on.
func (b *MemoryBus) DeadLetters() []Delivery {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	return append([]Delivery(nil), b.dead...)
}

// Pending reports how many deliveries wait in the named queue.
func (b *MemoryBus) Pending(exchange, queue string) int {
	b.mu.Lock()
	q, ok := b.queues[exchange+"/"+queue]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (b *MemoryBus) unbind(q *memoryQueue) {
	b.mu.Lock()
	if current, ok := b.queues[q.key]; ok && current == q {
		delete(b.queues, q.key)
	}
	b.mu.Unlock()
	q.close()
}

func (b *MemoryBus) work(ctx context.Context, q *memoryQueue) {
	defer b.wg.Done()
	for {
		delivery, ok := q.next()
		if !ok {
			return
		}
		b.deliver(ctx, q, delivery)
	}
}

func (b *MemoryBus) deliver(ctx context.Context, q *memoryQueue, delivery Delivery) {
	for attempt := 1; ; attempt++ {
		delivery.Attempt = attempt
		err := q.handler(ctx, delivery)
		result := settle(err, attempt, b.opts.MaxDeliver)
		metrics.EventsConsumed.WithLabelValues(q.name, string(result)).Inc()

		switch result {
		case outcomeAck:
			return
		case outcomeDeadLetter:
			b.log.Warn("delivery dead-lettered",
				zap.String("queue", q.name),
				zap.String("routing_key", delivery.RoutingKey),
				zap.Int("attempt", attempt),
				zap.Error(err))
			b.deadMu.Lock()
			b.dead = append(b.dead, delivery)
			b.deadMu.Unlock()
			return
		}

		b.log.Debug("delivery failed, redelivering",
			zap.String("queue", q.name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if b.opts.RedeliveryDelay > 0 {
			timer := time.NewTimer(b.opts.RedeliveryDelay)
			select {
			case <-timer.C:
			case <-q.stop:
				timer.Stop()
				return
			}
		}
		select {
		case <-q.stop:
			return
		default:
		}
	}
}

func (q *memoryQueue) push(d Delivery) {
	q.mu.Lock()
	q.pending = append(q.pending, d)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) next() (Delivery, bool) {
	for {
		select {
		case <-q.stop:
			return Delivery{}, false
		default:
		}

		q.mu.Lock()
		if len(q.pending) > 0 {
			d := q.pending[0]
			q.pending[0] = Delivery{}
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return d, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.stop:
			return Delivery{}, false
		}
	}
}

func (q *memoryQueue) close() {
	q.once.Do(func() { close(q.stop) })
}
