package notifications

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/internal/eventbus"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// Publisher emits notification events from write paths. Publishing is best effort:
// failures are logged and never reach the caller, whose write has already committed.
type Publisher struct {
	bus   eventbus.Bus
	log   *zap.Logger
	newID func() string
}

// NewPublisher returns a Publisher on bus. A nil bus yields a Publisher that drops everything.
func NewPublisher(bus eventbus.Bus) *Publisher {
	return &Publisher{
		bus:   bus,
		log:   logger.WithModule("notifications.producer"),
		newID: uuid.NewString,
	}
}

// Notify publishes an info event of kind to each distinct recipient other than actorID.
// It returns the number of events the bus accepted.
func (p *Publisher) Notify(ctx context.Context, actorID string, recipients []string, kind string) int {
	return p.NotifyWithSeverity(ctx, actorID, recipients, kind, models.SeverityInfo)
}

// NotifyWithSeverity is Notify with an explicit severity.
func (p *Publisher) NotifyWithSeverity(ctx context.Context, actorID string, recipients []string, kind, severity string) int {
	if p == nil || p.bus == nil {
		return 0
	}

	published := 0
	for _, recipient := range Recipients(actorID, recipients) {
		evt := Event{
			EventID: p.newID(),
			UserID:  recipient,
			Message: kind,
			Type:    severity,
		}
		if err := p.bus.Publish(ctx, Exchange, RoutingKeyCreated, evt); err != nil {
			p.log.Warn("notification publish failed",
				zap.String("recipient", recipient),
				zap.String("kind", kind),
				zap.Error(err))
			continue
		}
		published++
	}
	return published
}

// Recipients removes blanks, duplicates and the actor from candidates, keeping order.
func Recipients(actorID string, candidates []string) []string {
	actorID = strings.TrimSpace(actorID)
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || candidate == actorID {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}
	return out
}
