package model

import "time"

// EventStatus is the lifecycle state of an Event.
type EventStatus string

const (
	EventActive   EventStatus = "ACTIVE"
	EventConsumed EventStatus = "CONSUMED"
	EventExpired  EventStatus = "EXPIRED"
)

// Event is a named, possibly-delayed, TTL-bounded signal routed to one or
// more destinations.
type Event struct {
	Key            string         `json:"key"`
	ActiveFrom     time.Time      `json:"active_from"`
	Expires        time.Time      `json:"expires"`
	DisplayName    string         `json:"display_name,omitempty"`
	Payload        Value          `json:"payload,omitempty"`
	SingleConsumer bool           `json:"single_consumer"`
	CreatedAt      time.Time      `json:"created_at"`
	UniqueID       string         `json:"unique_id"`
	FamilyID       string         `json:"family_id"` // shared across a single-consumer fan-out set
	Status         EventStatus    `json:"status"`
	ConsumedBy     string         `json:"consumed_by,omitempty"`
	ConsumedAt     *time.Time     `json:"consumed_at,omitempty"`
}

// IsLive reports whether the event is presently consumable: active_from has
// passed and it has not yet expired.
func (e Event) IsLive(now time.Time) bool {
	return e.Status == EventActive && !now.Before(e.ActiveFrom) && now.Before(e.Expires)
}

// IsExpired reports whether the event's TTL has lapsed while still ACTIVE.
func (e Event) IsExpired(now time.Time) bool {
	return e.Status == EventActive && !now.Before(e.Expires)
}
