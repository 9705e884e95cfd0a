package events

import "context"

// Hint is the live-update message published on event state changes.
// Consoles use it only as a trigger to refresh; no ordering or delivery
// guarantees.
type Hint struct {
	EventID int64  `json:"eventId"`
	State   string `json:"state"`
}

type Handler func(ctx context.Context, hint Hint) error

type Publisher interface {
	Publish(ctx context.Context, channel string, hint Hint) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler Handler) error
}

type Broker interface {
	Publisher
	Subscriber
}

// Channel carrying event lifecycle hints.
const EventChannel = "eventflow:events"
