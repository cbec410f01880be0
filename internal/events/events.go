// Package events publishes trip and match lifecycle events for downstream
// consumers.
package events

import (
	"context"
	"time"
)

// Type names an event.
type Type string

const (
	TripCreated       Type = "trip.created"
	TripStatusChanged Type = "trip.status_changed"
	TripCancelled     Type = "trip.cancelled"
	MatchesPersisted  Type = "match.persisted"
	MessageSent       Type = "message.sent"
)

// Event is the payload written to the stream. Key is the partitioning key,
// usually the trip or match id.
type Event struct {
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	TripID     string    `json:"trip_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	MatchID    string    `json:"match_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Count      int       `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher writes events to a stream.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ...Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }
