package service

import (
	"errors"
	"fmt"
	"time"

	"humgo/internal/validation"
)

// ErrValidation is matched by every input validation failure.
var ErrValidation = errors.New("validation failed")

// validationError is a sentinel that also matches ErrValidation.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(msg string) error {
	return &validationError{msg: msg}
}

var (
	// ErrInvalidUserID is returned when the user id is empty after sanitising.
	ErrInvalidUserID = newValidationError("invalid user id")

	// ErrInvalidTripID is returned when a trip id is empty or malformed.
	ErrInvalidTripID = newValidationError("invalid trip id")

	// ErrInvalidMatchID is returned when a match id is empty or malformed.
	ErrInvalidMatchID = newValidationError("invalid match id")

	// ErrInvalidSenderID is returned when the sender id is empty after sanitising.
	ErrInvalidSenderID = newValidationError("invalid sender id")

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = newValidationError("invalid pickup location")

	// ErrInvalidDropoffLocation is returned when drop-off coordinates are invalid.
	ErrInvalidDropoffLocation = newValidationError("invalid drop-off location")

	// ErrInvalidVehicleType is returned when the vehicle is not on the whitelist.
	ErrInvalidVehicleType = newValidationError("invalid vehicle type")

	// ErrInvalidPrice is returned when the estimated price is out of bounds.
	ErrInvalidPrice = newValidationError("invalid estimated price")

	// ErrInvalidStatus is returned when a status is not one of the trip statuses.
	ErrInvalidStatus = newValidationError("invalid trip status")

	// ErrInvalidMessage is returned when message text is empty or too long.
	ErrInvalidMessage = newValidationError("invalid message")

	// ErrInvalidTrip is returned when a trip fails structural validation.
	ErrInvalidTrip = newValidationError("invalid trip data")
)

var (
	// ErrRateLimited is returned when an action is repeated inside its cooldown.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout is returned when a write does not finish in time. It is retryable.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidTransition is returned when a trip cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid trip status transition")

	// ErrNotTripOwner is returned when a user changes a trip they do not own.
	ErrNotTripOwner = errors.New("trip belongs to another user")

	// ErrTripExists is returned when a new trip reuses the id of a stored trip.
	ErrTripExists = errors.New("trip id already in use")

	// ErrTripCreateInProgress is returned when another instance holds the
	// user's trip creation lock.
	ErrTripCreateInProgress = errors.New("trip creation already in progress")
)

// RideDistanceError reports a pickup/drop-off pair outside the ride distance bounds.
type RideDistanceError struct {
	Check validation.DistanceCheck
}

func (e *RideDistanceError) Error() string {
	return fmt.Sprintf("invalid ride distance: %s (%.2f km)", e.Check.Reason, e.Check.DistanceKm)
}

// Is makes RideDistanceError match ErrValidation.
func (e *RideDistanceError) Is(target error) bool { return target == ErrValidation }

// RateLimitError is an ErrRateLimited carrying the cooldown that applies.
type RateLimitError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Operation, e.RetryAfter)
}

// Is makes RateLimitError match ErrRateLimited.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
