// Package pubsub provides a generic publish/subscribe event bus used to
// observe process lifecycle transitions and log output.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// CreatedEvent is published for new log lines.
	CreatedEvent EventType = "created"
	// SpawnedEvent is published when a child process has been started.
	SpawnedEvent EventType = "spawned"
	// ExitedEvent is published the first time a child is observed dead.
	ExitedEvent EventType = "exited"
	// HarvestedEvent is published when messages were drained from a child.
	HarvestedEvent EventType = "harvested"
	// DisposedEvent is published after a handle's channel was destroyed.
	DisposedEvent EventType = "disposed"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
