package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

// NATSConfig configures the JetStream backed bus.
type NATSConfig struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// AckWait is how long the broker waits for an ack before redelivering.
	AckWait time.Duration
	// MaxDeliver bounds redeliveries before the broker drops the message.
	MaxDeliver int
	// DuplicateWindow is the span within which events with the same id are dropped.
	DuplicateWindow time.Duration
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 2 * time.Minute
	}
	return c
}

// NATSBus maps exchanges onto JetStream streams. An exchange becomes a stream
// capturing "<exchange>.>", a routing key becomes the subject suffix and a queue
// becomes a durable pull consumer with explicit acks.
type NATSBus struct {
	cfg        NATSConfig
	conn       *nats.Conn
	connClosed <-chan struct{}
	js         jetstream.JetStream
	log        *zap.Logger

	// createStream declares a stream on the broker. Concurrent declarations of the
	// same exchange share one call through declaring.
	createStream func(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	declaring    singleflight.Group

	mu        sync.Mutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.ConsumeContext
	closed    bool
}

// DialNATS connects to the broker. It fails when the initial connection cannot be made.
func DialNATS(ctx context.Context, cfg NATSConfig) (*NATSBus, error) {
	cfg = cfg.withDefaults()
	log := logger.WithModule("eventbus.nats")
	closedCh := make(chan struct{})
	var closeOnce sync.Once

	opts := []nats.Option{
		nats.ClosedHandler(func(*nats.Conn) {
			closeOnce.Do(func() { close(closedCh) })
		}),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("broker disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info("broker reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("broker error", zap.Error(err))
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	result := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		result <- dialResult{conn: conn, err: err}
	}()

	var conn *nats.Conn
	select {
	case res := <-result:
		if res.err != nil {
			return nil, fmt.Errorf("eventbus: connect %s: %w", cfg.URL, res.err)
		}
		conn = res.conn
	case <-ctx.Done():
		go func() {
			if res := <-result; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("eventbus: connect %s: %w", cfg.URL, ctx.Err())
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: jetstream: %w", err)
	}

	log.Info("connected to broker", zap.String("url", conn.ConnectedUrl()))
	return &NATSBus{
		cfg:          cfg,
		conn:         conn,
		connClosed:   closedCh,
		js:           js,
		log:          log,
		createStream: js.CreateOrUpdateStream,
		streams:      make(map[string]jetstream.Stream),
		consumers:    make(map[string]jetstream.ConsumeContext),
	}, nil
}

// Publish waits for the broker acknowledgement of the stored event.
func (b *NATSBus) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := Encode(payload)
	if err != nil {
		return err
	}
	if _, err := b.ensureStream(ctx, exchange); err != nil {
		metrics.EventsPublished.WithLabelValues(routingKey, "error").Inc()
		return err
	}

	var opts []jetstream.PublishOpt
	if id := messageID(payload); id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}

	if _, err := b.js.Publish(ctx, Subject(exchange, routingKey), body, opts...); err != nil {
		metrics.EventsPublished.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("eventbus: publish %s/%s: %w", exchange, routingKey, err)
	}
	metrics.EventsPublished.WithLabelValues(routingKey, "ok").Inc()
	return nil
}

// Subscribe creates or updates the durable consumer and starts consuming.
func (b *NATSBus) Subscribe(ctx context.Context, exchange, routingKey, queue string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("eventbus: nil handler for queue %q", queue)
	}
	durable := ConsumerName(queue)
	if durable == "" {
		return errors.New("eventbus: queue name is required")
	}

	stream, err := b.ensureStream(ctx, exchange)
	if err != nil {
		return err
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: Subject(exchange, routingKey),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("eventbus: consumer %s: %w", durable, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		b.handle(ctx, exchange, queue, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("eventbus: consume %s: %w", durable, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		consumeCtx.Stop()
		return ErrClosed
	}
	if existing, ok := b.consumers[durable]; ok {
		existing.Stop()
	}
	b.consumers[durable] = consumeCtx
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if current, ok := b.consumers[durable]; ok && current == consumeCtx {
			delete(b.consumers, durable)
		}
		b.mu.Unlock()
		consumeCtx.Stop()
	}()

	b.log.Info("queue bound",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.String("queue", durable))
	return nil
}

func (b *NATSBus) handle(ctx context.Context, exchange, queue string, msg jetstream.Msg, handler Handler) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	delivery := Delivery{
		Exchange:   exchange,
		RoutingKey: strings.TrimPrefix(msg.Subject(), exchange+"."),
		Queue:      queue,
		Body:       msg.Data(),
		Attempt:    attempt,
	}

	err := handler(ctx, delivery)
	result := settle(err, attempt, 0)
	metrics.EventsConsumed.WithLabelValues(queue, string(result)).Inc()

	var ackErr error
	switch result {
	case outcomeAck:
		ackErr = msg.Ack()
	case outcomeDeadLetter:
		b.log.Warn("delivery terminated",
			zap.String("queue", queue),
			zap.String("subject", msg.Subject()),
			zap.Error(err))
		ackErr = msg.Term()
	default:
		// the broker stops redelivering after MaxDeliver attempts
		b.log.Debug("delivery failed, requesting redelivery",
			zap.String("queue", queue),
			zap.Int("attempt", attempt),
			zap.Error(err))
		ackErr = msg.Nak()
	}
	if ackErr != nil {
		b.log.Warn("settle delivery", zap.String("queue", queue), zap.Error(ackErr))
	}
}

// Ping fails while the connection is down.
func (b *NATSBus) Ping(ctx context.Context) error {
	if b.conn == nil || !b.conn.IsConnected() {
		return errors.New("eventbus: broker not connected")
	}
	if _, err := b.js.AccountInfo(ctx); err != nil {
		return fmt.Errorf("eventbus: jetstream unavailable: %w", err)
	}
	return nil
}

// Close stops consumers and drains the connection.
func (b *NATSBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.consumers = map[string]jetstream.ConsumeContext{}
	b.mu.Unlock()

	for _, cc := range consumers {
		cc.Stop()
	}

	var errs error
	if err := b.conn.Drain(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("eventbus: drain: %w", err))
	}

	select {
	case <-b.connClosed:
	case <-ctx.Done():
		b.conn.Close()
		errs = multierr.Append(errs, fmt.Errorf("eventbus: close: %w", ctx.Err()))
	}
	return errs
}

// ensureStream returns the stream of exchange, declaring it on first use. The broker
// round trip runs without b.mu held.
func (b *NATSBus) ensureStream(ctx context.Context, exchange string) (jetstream.Stream, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if stream, ok := b.streams[exchange]; ok {
		b.mu.Unlock()
		return stream, nil
	}
	b.mu.Unlock()

	v, err, _ := b.declaring.Do(exchange, func() (any, error) {
		b.mu.Lock()
		if stream, ok := b.streams[exchange]; ok {
			b.mu.Unlock()
			return stream, nil
		}
		b.mu.Unlock()

		stream, err := b.createStream(ctx, jetstream.StreamConfig{
			Name:       StreamName(exchange),
			Subjects:   []string{exchange + ".>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			Duplicates: b.cfg.DuplicateWindow,
		})
		if err != nil {
			return nil, fmt.Errorf("eventbus: stream for %s: %w", exchange, err)
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return nil, ErrClosed
		}
		b.streams[exchange] = stream
		return stream, nil
	})
	if err != nil {
		return nil, err
	}
	stream, _ := v.(jetstream.Stream)
	return stream, nil
}

// Subject converts an exchange and a topic routing key into a NATS subject.
func Subject(exchange, routingKey string) string {
	words := strings.Split(routingKey, ".")
	for i, word := range words {
		if word == "#" {
			words[i] = ">"
			words = words[:i+1]
			break
		}
	}
	return exchange + "." + strings.Join(words, ".")
}

// StreamName derives a valid stream name from an exchange name.
func StreamName(exchange string) string {
	return strings.ToUpper(sanitizeName(exchange))
}

// ConsumerName derives a valid durable consumer name from a queue name.
func ConsumerName(queue string) string {
	return sanitizeName(queue)
}

func sanitizeName(value string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
