package validation

import (
	"math"
	"strings"
	"unicode/utf8"

	"humgo/internal/domain"
	"humgo/internal/geo"
)

const (
	// MinPrice and MaxPrice bound a trip's estimated price.
	MinPrice = 10.0
	MaxPrice = 50000.0

	// MinRideDistanceKm and MaxRideDistanceKm bound the pickup-to-drop distance.
	MinRideDistanceKm = 0.1
	MaxRideDistanceKm = 200.0

	// MaxMessageLength is the longest accepted chat message, in characters.
	MaxMessageLength = 5000

	// MaxAddressLength is the longest stored address, in characters.
	MaxAddressLength = 500

	// MaxUserIDLength is the longest accepted user id.
	MaxUserIDLength = 128

	// MaxTripIDLength is the longest accepted trip id.
	MaxTripIDLength = 128

	// MaxMatchIDLength is the longest accepted match id.
	MaxMatchIDLength = 256
)

// DistanceReason explains why a ride distance was rejected.
type DistanceReason string

const (
	DistanceOK                 DistanceReason = ""
	DistanceInvalidCoordinates DistanceReason = "invalid coordinates"
	DistanceTooClose           DistanceReason = "pickup and drop-off are too close"
	DistanceTooFar             DistanceReason = "distance exceeds maximum limit"
)

// DistanceCheck is the structured result of CheckRideDistance.
type DistanceCheck struct {
	Valid      bool
	DistanceKm float64
	Reason     DistanceReason
}

// IsValidCoordinate reports whether lat/lng are finite and within geographic bounds.
func IsValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// CheckRideDistance validates the pickup-to-drop distance.
// Both bounds are inclusive.
func CheckRideDistance(pickupLat, pickupLng, dropLat, dropLng float64) DistanceCheck {
	if !IsValidCoordinate(pickupLat, pickupLng) || !IsValidCoordinate(dropLat, dropLng) {
		return DistanceCheck{Reason: DistanceInvalidCoordinates}
	}

	d := geo.HaversineKm(pickupLat, pickupLng, dropLat, dropLng)
	return CheckDistanceKm(d)
}

// CheckDistanceKm applies the ride distance bounds to an already computed distance.
func CheckDistanceKm(d float64) DistanceCheck {
	switch {
	case math.IsNaN(d):
		return DistanceCheck{Reason: DistanceInvalidCoordinates}
	case d < MinRideDistanceKm:
		return DistanceCheck{DistanceKm: d, Reason: DistanceTooClose}
	case d > MaxRideDistanceKm:
		return DistanceCheck{DistanceKm: d, Reason: DistanceTooFar}
	}
	return DistanceCheck{Valid: true, DistanceKm: d}
}

// IsValidRideDistance is the boolean form of CheckRideDistance.
func IsValidRideDistance(pickupLat, pickupLng, dropLat, dropLng float64) bool {
	return CheckRideDistance(pickupLat, pickupLng, dropLat, dropLng).Valid
}

// IsValidPrice reports whether price lies in [MinPrice, MaxPrice].
func IsValidPrice(price float64) bool {
	return !math.IsNaN(price) && price >= MinPrice && price <= MaxPrice
}

// IsValidVehicleType reports whether v is on the whitelist.
func IsValidVehicleType(v string) bool {
	return domain.VehicleType(v).Valid()
}

// MessageProblem explains why message text was rejected.
type MessageProblem string

const (
	MessageOK      MessageProblem = ""
	MessageEmpty   MessageProblem = "message cannot be empty"
	MessageTooLong MessageProblem = "message too long (max 5000 characters)"
)

// CheckMessage validates chat text: non-empty after trimming and at most
// MaxMessageLength characters.
func CheckMessage(text string) MessageProblem {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return MessageEmpty
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return MessageTooLong
	}
	return MessageOK
}

// IsValidMessage is the boolean form of CheckMessage.
func IsValidMessage(text string) bool {
	return CheckMessage(text) == MessageOK
}

// IsValidID reports whether id is a non-empty identifier of at most maxLen
// characters drawn from [A-Za-z0-9_-].
func IsValidID(id string, maxLen int) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !isIDByte(id[i]) {
			return false
		}
	}
	return true
}

// IsValidMatchID reports whether id has the shape of a match id: trip id
// characters plus the pair separator.
func IsValidMatchID(id string) bool {
	if id == "" || len(id) > MaxMatchIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !isIDByte(id[i]) && id[i] != '.' {
			return false
		}
	}
	return true
}

// IsValidTrip is the structural check applied to every trip read from storage
// before it takes part in matching.
func IsValidTrip(t *domain.Trip) bool {
	if t == nil || t.ID == "" || t.UserID == "" {
		return false
	}
	if !IsValidCoordinate(t.Pickup.Latitude, t.Pickup.Longitude) {
		return false
	}
	if !IsValidCoordinate(t.Dropoff.Latitude, t.Dropoff.Longitude) {
		return false
	}
	if t.VehicleType != "" && !t.VehicleType.Valid() {
		return false
	}
	return true
}

func isIDByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_' || b == '-'
}
