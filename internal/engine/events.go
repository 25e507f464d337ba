package engine

import "shardd/pkg/types"

// Event represents an engine lifecycle event: shard loads and session
// ends or evictions.
type Event struct {
	Name      string
	Shard     types.Shard
	RequestID string
	Fields    map[string]any
}

// EventPublisher receives events from the engine. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
