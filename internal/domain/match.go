package domain

import "time"

// MatchStatus represents the state of a pairing between two trips.
type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusMatched  MatchStatus = "matched"
	MatchStatusChatting MatchStatus = "chatting"
)

// matchIDSeparator is outside the trip id charset, so two different
// pairs can never produce the same match id.
const matchIDSeparator = "."

// Match is a discovered pairing between a reference trip (TripA) and a
// nearby compatible trip (TripB).
type Match struct {
	ID             string
	TripA          string
	TripB          string
	Riders         int
	DistanceKm     float64
	EtaMinutes     int
	PickupAddress  string
	DropoffAddress string
	Status         MatchStatus
	CreatedAt      time.Time
}

// MatchID derives the order-independent identifier for a pair of trips.
func MatchID(tripX, tripY string) string {
	if tripY < tripX {
		tripX, tripY = tripY, tripX
	}
	return tripX + matchIDSeparator + tripY
}

// Involves reports whether the trip is either side of the match.
func (m *Match) Involves(tripID string) bool {
	return m.TripA == tripID || m.TripB == tripID
}
