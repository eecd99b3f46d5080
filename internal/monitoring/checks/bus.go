package checks

import (
	"context"
	"errors"

	"github.com/charlesng35/studyhub/internal/monitoring"
)

// Pinger is anything that can report its connection state, such as the event bus.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Broker returns a readiness probe for the event bus connection.
func Broker(bus Pinger) monitoring.Check {
	return monitoring.ErrorCheck("broker", func(ctx context.Context) error {
		if bus == nil {
			return errors.New("broker not configured")
		}
		return bus.Ping(ctx)
	})
}

// Ready wraps a component readiness func, such as the gateway's supergraph state.
func Ready(name string, ready func(ctx context.Context) error) monitoring.Check {
	return monitoring.ErrorCheck(name, ready)
}
