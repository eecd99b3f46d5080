// Package eventbus publishes and consumes JSON events over a topic based broker.
//
// Exchanges group related routing keys. Queues are durable, named subscriptions: every
// queue bound to a matching routing key receives its own copy of each event, and a
// handler error causes redelivery until the broker gives up. Handlers that can never
// succeed for a payload should return Permanent(err) so the delivery is dead-lettered
// instead of retried.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPermanent marks handler failures that must not be redelivered.
var ErrPermanent = errors.New("eventbus: permanent failure")

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("eventbus: closed")

// Delivery is a single attempt at handing an event to a queue handler.
type Delivery struct {
	Exchange   string
	RoutingKey string
	Queue      string
	Body       []byte
	// Attempt starts at 1 and grows with every redelivery.
	Attempt int
}

// Handler processes one delivery. A nil error acknowledges it.
type Handler func(ctx context.Context, delivery Delivery) error

// Bus is the broker capability injected into producers and consumers.
type Bus interface {
	// Publish returns once the broker accepted the event.
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
	// Subscribe binds a durable queue to exchange/routingKey and starts consuming.
	// It returns after the binding exists; deliveries run until ctx ends or the bus closes.
	Subscribe(ctx context.Context, exchange, routingKey, queue string, handler Handler) error
	// Ping reports whether the broker connection is usable.
	Ping(ctx context.Context) error
	// Close stops consumers and releases the connection.
	Close(ctx context.Context) error
}

// Identified payloads carry a producer assigned id the broker can use for duplicate suppression.
type Identified interface {
	MessageID() string
}

// Permanent wraps err so the bus dead-letters the delivery.
func Permanent(err error) error {
	if err == nil {
		err = errors.New("unprocessable delivery")
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Encode turns a payload into the JSON body put on the wire.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, errors.New("eventbus: nil payload")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("eventbus: encode payload: %w", err)
		}
		return body, nil
	}
}

func messageID(payload any) string {
	if identified, ok := payload.(Identified); ok {
		return identified.MessageID()
	}
	return ""
}

type outcome string

const (
	outcomeAck        outcome = "ack"
	outcomeRetry      outcome = "retry"
	outcomeDeadLetter outcome = "dead_letter"
)

// settle decides what happens to a delivery after its handler returned.
func settle(err error, attempt, maxDeliver int) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case IsPermanent(err):
		return outcomeDeadLetter
	case maxDeliver > 0 && attempt >= maxDeliver:
		return outcomeDeadLetter
	default:
		return outcomeRetry
	}
}
