package notifications

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/internal/eventbus"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// Store persists notifications for the consumer. Record fills in the id and
// timestamps of n and reports false when an event with the same id was stored before.
type Store interface {
	Record(ctx context.Context, n *models.Notification) (bool, error)
}

// Pusher is the live push channel.
type Pusher interface {
	Publish(topic string, payload any) int
}

// Consumer turns bus events into stored notifications and pushes each stored
// notification to live subscribers only after the write committed.
type Consumer struct {
	store Store
	push  Pusher
	queue string
	log   *zap.Logger
}

// NewConsumer builds a Consumer. queue defaults to DefaultQueue.
func NewConsumer(store Store, push Pusher, queue string) (*Consumer, error) {
	if store == nil {
		return nil, errors.New("notification consumer: store is required")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &Consumer{
		store: store,
		push:  push,
		queue: queue,
		log:   logger.WithModule("notifications.consumer"),
	}, nil
}

// Start binds the consumer's durable queue on bus.
func (c *Consumer) Start(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		return errors.New("notification consumer: bus is required")
	}
	if err := bus.Subscribe(ctx, Exchange, RoutingKeyCreated, c.queue, c.Handle); err != nil {
		return fmt.Errorf("notification consumer: subscribe: %w", err)
	}
	c.log.Info("consuming notification events", zap.String("queue", c.queue))
	return nil
}

// Handle processes one delivery. Malformed events are dead-lettered; store failures
// are returned so the bus redelivers.
func (c *Consumer) Handle(ctx context.Context, delivery eventbus.Delivery) error {
	evt, err := ParseEvent(delivery.Body)
	if err != nil {
		c.log.Warn("dropping malformed notification event",
			zap.Int("attempt", delivery.Attempt),
			zap.ByteString("body", delivery.Body),
			zap.Error(err))
		return eventbus.Permanent(err)
	}

	notification := &models.Notification{
		UserID:  evt.UserID,
		Message: evt.Message,
		Type:    evt.Type,
	}
	if evt.EventID != "" {
		eventID := evt.EventID
		notification.EventID = &eventID
	}

	created, err := c.store.Record(ctx, notification)
	if err != nil {
		c.log.Warn("persisting notification failed",
			zap.String("recipient", evt.UserID),
			zap.Int("attempt", delivery.Attempt),
			zap.Error(err))
		return fmt.Errorf("notification consumer: persist: %w", err)
	}
	if !created {
		c.log.Debug("duplicate notification event ignored", zap.String("event_id", evt.EventID))
		return nil
	}

	if c.push != nil {
		delivered := c.push.Publish(TopicNewNotification, notification)
		c.log.Debug("notification pushed",
			zap.String("notification_id", notification.ID),
			zap.String("recipient", notification.UserID),
			zap.Int("subscribers", delivered))
	}
	return nil
}
