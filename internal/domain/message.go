package domain

import (
	"strings"
	"time"
)

// ProvisionalMessagePrefix marks ids of messages that have not been persisted yet.
const ProvisionalMessagePrefix = "local_"

// Message is one entry in a match chat thread.
type Message struct {
	ID        string
	ClientID  string // client correlation id, carried into the stored record
	MatchID   string
	TripID    string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// Provisional reports whether the message is an optimistic local entry.
func (m *Message) Provisional() bool {
	return strings.HasPrefix(m.ID, ProvisionalMessagePrefix)
}
