package webhooks

import (
	"slices"
	"time"
)

// Event types dispatched by the registry.
const (
	EventBlockAppended = "block.appended"
	EventChainDegraded = "chain.degraded"
)

// Subscription is a configured webhook receiver.
type Subscription struct {
	URL    string   `mapstructure:"url"`
	Events []string `mapstructure:"events"` // empty means every event
	Secret string   `mapstructure:"secret"`
}

// Wants reports whether the subscription receives eventType.
func (s Subscription) Wants(eventType string) bool {
	return len(s.Events) == 0 || slices.Contains(s.Events, eventType)
}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}
