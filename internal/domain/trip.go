package domain

import "time"

// TripStatus represents the lifecycle state of a trip.
type TripStatus string

const (
	TripStatusPending   TripStatus = "pending"
	TripStatusActive    TripStatus = "active"
	TripStatusMatched   TripStatus = "matched"
	TripStatusCompleted TripStatus = "completed"
	TripStatusCancelled TripStatus = "cancelled"
)

// OpenTripStatuses are the statuses counted by the one-open-trip-per-user invariant.
var OpenTripStatuses = []TripStatus{TripStatusPending, TripStatusActive}

// CandidateTripStatuses are the statuses a trip must have to be offered as a match.
var CandidateTripStatuses = []TripStatus{TripStatusPending, TripStatusActive}

// CurrentTripStatuses are the statuses shown as a user's current trip.
var CurrentTripStatuses = []TripStatus{TripStatusPending, TripStatusActive, TripStatusMatched}

// Valid reports whether s is one of the known trip statuses.
func (s TripStatus) Valid() bool {
	switch s {
	case TripStatusPending, TripStatusActive, TripStatusMatched,
		TripStatusCompleted, TripStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s TripStatus) Terminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

var tripTransitions = map[TripStatus][]TripStatus{
	TripStatusPending: {TripStatusActive, TripStatusMatched, TripStatusCancelled},
	TripStatusActive:  {TripStatusMatched, TripStatusCompleted, TripStatusCancelled},
	TripStatusMatched: {TripStatusActive, TripStatusCompleted, TripStatusCancelled},
}

// CanTransition reports whether a trip may move from one status to another.
// Re-writing the current status is always allowed.
func CanTransition(from, to TripStatus) bool {
	if from == to {
		return true
	}
	for _, next := range tripTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// VehicleType is the rider's vehicle preference.
type VehicleType string

const (
	VehicleBike     VehicleType = "bike"
	VehicleRickshaw VehicleType = "rickshaw"
	VehicleCar      VehicleType = "car"
	VehicleSUV      VehicleType = "suv"
)

// VehicleTypes is the whitelist of accepted vehicle types.
var VehicleTypes = []VehicleType{VehicleBike, VehicleRickshaw, VehicleCar, VehicleSUV}

// Valid reports whether v is whitelisted.
func (v VehicleType) Valid() bool {
	for _, known := range VehicleTypes {
		if v == known {
			return true
		}
	}
	return false
}

// Location is a trip endpoint.
type Location struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// Trip represents a rider's requested journey.
type Trip struct {
	ID             string
	UserID         string
	Pickup         Location
	Dropoff        Location
	VehicleType    VehicleType
	EstimatedPrice float64
	Status         TripStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOpen reports whether the trip counts as the user's open trip.
func (t *Trip) IsOpen() bool {
	return t.Status == TripStatusPending || t.Status == TripStatusActive
}
