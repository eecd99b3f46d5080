// Package notifications moves notification events from the write paths that cause
// them, across the bus, into the notification store and out to live subscribers.
package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/studyhub/internal/models"
)

// Wire names shared by every producer and the consumer.
const (
	Exchange          = "notifications_exchange"
	RoutingKeyCreated = "notification.created"
	DefaultQueue      = "notification_created_queue"

	// TopicNewNotification is the live push topic carrying stored notifications.
	TopicNewNotification = "newNotification"
)

// Message kinds carried in Event.Message.
const (
	KindNewMessage = "NEW_MESSAGE"
	KindNewChat    = "NEW_CHAT"
	KindNewComment = "NEW_COMMENT"
	KindNewLike    = "NEW_LIKE"
)

// Event is the wire shape published on RoutingKeyCreated. EventID is optional:
// producers in this repository always set it, older producers do not.
type Event struct {
	EventID string `json:"eventId,omitempty"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// MessageID lets the broker suppress duplicate publishes of the same event.
func (e Event) MessageID() string {
	return e.EventID
}

// Parse errors are never worth retrying.
var (
	ErrMissingUserID   = errors.New("notification event: userId is required")
	ErrMissingMessage  = errors.New("notification event: message is required")
	ErrUnknownSeverity = errors.New("notification event: unknown type")
)

// ParseEvent decodes a wire payload. Unknown fields are ignored and an empty type
// defaults to info.
func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("notification event: decode: %w", err)
	}

	evt.UserID = strings.TrimSpace(evt.UserID)
	evt.EventID = strings.TrimSpace(evt.EventID)
	evt.Type = strings.ToLower(strings.TrimSpace(evt.Type))

	if evt.UserID == "" {
		return Event{}, ErrMissingUserID
	}
	if strings.TrimSpace(evt.Message) == "" {
		return Event{}, ErrMissingMessage
	}
	if evt.Type == "" {
		evt.Type = models.SeverityInfo
	}
	if !models.ValidSeverity(evt.Type) {
		return Event{}, fmt.Errorf("%w %q", ErrUnknownSeverity, evt.Type)
	}
	return evt, nil
}
