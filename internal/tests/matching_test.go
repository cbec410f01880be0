package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humgo/internal/domain"
	"humgo/internal/events"
	"humgo/internal/service"
)

// ──────────────────────────────────────────────
// 1. TWO NEARBY RIDERS ARE MATCHED
// ──────────────────────────────────────────────

func TestScenario_NearbyRidersMatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.trips.CreateTrip(ctx, service.CreateTripRequest{
		UserID:         "user-a",
		Pickup:         domain.Location{Latitude: 31.52, Longitude: 74.35},
		Dropoff:        domain.Location{Latitude: 31.54, Longitude: 74.38},
		VehicleType:    domain.VehicleCar,
		EstimatedPrice: 200,
	})
	require.NoError(t, err)

	b, err := h.trips.CreateTrip(ctx, service.CreateTripRequest{
		UserID:         "user-b",
		Pickup:         domain.Location{Latitude: 31.521, Longitude: 74.351},
		Dropoff:        domain.Location{Latitude: 31.541, Longitude: 74.381},
		VehicleType:    domain.VehicleBike,
		EstimatedPrice: 60,
	})
	require.NoError(t, err)

	session := service.NewSession(h.trips, h.matching, h.messages, nil, nil)
	defer session.Close()
	require.NoError(t, session.SwitchUser(domain.Identity{ID: "user-a"}))
	require.NoError(t, session.GenerateMatches(a.Trip, 0))

	var st service.State
	require.Eventually(t, func() bool {
		st = session.State()
		return !st.MatchesLoading && len(st.Matches) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, st.Matches, 1)
	m := st.Matches[0]
	assert.Equal(t, b.Trip.ID, m.TripB)
	assert.Equal(t, domain.MatchID(a.Trip.ID, b.Trip.ID), m.ID)
	assert.GreaterOrEqual(t, m.DistanceKm, 0.1)
	assert.LessOrEqual(t, m.DistanceKm, 0.2)
	assert.Equal(t, service.MinEtaMinutes, m.EtaMinutes)

	// The scan result is persisted in the background.
	require.Eventually(t, func() bool {
		stored, err := h.matching.ListMatchesForTrip(ctx, b.Trip.ID)
		return err == nil && len(stored) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(h.publisher.OfType(events.MatchesPersisted)) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScenario_MatchesFollowNewTrips(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.trips.CreateTrip(ctx, service.CreateTripRequest{
		UserID:         "user-a",
		Pickup:         domain.Location{Latitude: 31.52, Longitude: 74.35},
		Dropoff:        domain.Location{Latitude: 31.54, Longitude: 74.38},
		VehicleType:    domain.VehicleCar,
		EstimatedPrice: 200,
	})
	require.NoError(t, err)

	session := service.NewSession(h.trips, h.matching, h.messages, nil, nil)
	defer session.Close()
	require.NoError(t, session.SwitchUser(domain.Identity{ID: "user-a"}))
	require.NoError(t, session.GenerateMatches(a.Trip, 5))

	require.Eventually(t, func() bool {
		return !session.State().MatchesLoading
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, session.State().Matches)

	// A far-away trip does not qualify; a nearby one does.
	_, err = h.trips.CreateTrip(ctx, service.CreateTripRequest{
		UserID:         "user-far",
		Pickup:         domain.Location{Latitude: 31.70, Longitude: 74.35},
		Dropoff:        domain.Location{Latitude: 31.72, Longitude: 74.38},
		VehicleType:    domain.VehicleCar,
		EstimatedPrice: 200,
	})
	require.NoError(t, err)
	near, err := h.trips.CreateTrip(ctx, service.CreateTripRequest{
		UserID:         "user-near",
		Pickup:         domain.Location{Latitude: 31.525, Longitude: 74.35},
		Dropoff:        domain.Location{Latitude: 31.545, Longitude: 74.38},
		VehicleType:    domain.VehicleSUV,
		EstimatedPrice: 400,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := session.State()
		return len(st.Matches) == 1 && st.Matches[0].TripB == near.Trip.ID
	}, 2*time.Second, 5*time.Millisecond)

	// Once the nearby trip is cancelled it drops out of the live result.
	_, err = h.trips.CancelTrip(ctx, near.Trip.ID, "user-near")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(session.State().Matches) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
