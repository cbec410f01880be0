package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humgo/internal/domain"
	"humgo/internal/live"
	"humgo/internal/repository/memory"
)

func lahoreTrip(id, userID string, dLat, dLng float64) *domain.Trip {
	return &domain.Trip{
		ID:          id,
		UserID:      userID,
		Pickup:      domain.Location{Latitude: 31.52 + dLat, Longitude: 74.35 + dLng, Address: "Pickup " + id},
		Dropoff:     domain.Location{Latitude: 31.54 + dLat, Longitude: 74.38 + dLng, Address: "Drop " + id},
		VehicleType: domain.VehicleCar,
		Status:      domain.TripStatusPending,
		CreatedAt:   testStart,
		UpdatedAt:   testStart,
	}
}

// ──────────────────────────────────────────────
// 1. RADIUS
// ──────────────────────────────────────────────

func TestEffectiveRadius(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{0, DefaultRadiusKm},
		{-5, DefaultRadiusKm},
		{math.NaN(), DefaultRadiusKm},
		{math.Inf(1), DefaultRadiusKm},
		{0.2, MinRadiusKm},
		{7.5, 7.5},
		{120, MaxRadiusKm},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EffectiveRadius(tt.in), "radius %v", tt.in)
	}
}

// ──────────────────────────────────────────────
// 2. RANKING
// ──────────────────────────────────────────────

func TestRank_ExcludesSelfAndSameUser(t *testing.T) {
	t.Parallel()
	ref := lahoreTrip("ref", "user-a", 0, 0)

	candidates := []*domain.Trip{
		ref,
		lahoreTrip("same-user", "user-a", 0.001, 0.001),
		lahoreTrip("other", "user-b", 0.001, 0.001),
	}

	matches := Rank(ref, candidates, 0)
	require.Len(t, matches, 1)
	assert.Equal(t, "other", matches[0].TripB)
	assert.Equal(t, "ref", matches[0].TripA)
	assert.Equal(t, domain.MatchID("ref", "other"), matches[0].ID)
}

func TestRank_BothEndpointsMustBeWithinRadius(t *testing.T) {
	t.Parallel()
	ref := lahoreTrip("ref", "user-a", 0, 0)

	farDrop := lahoreTrip("far-drop", "user-b", 0, 0)
	farDrop.Dropoff.Latitude += 0.2 // ~22km

	farPickup := lahoreTrip("far-pickup", "user-c", 0, 0)
	farPickup.Pickup.Longitude += 0.2

	near := lahoreTrip("near", "user-d", 0.01, 0)

	matches := Rank(ref, []*domain.Trip{farDrop, farPickup, near}, 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "near", matches[0].TripB)

	wide := Rank(ref, []*domain.Trip{farDrop, farPickup, near}, 50)
	assert.Len(t, wide, 3)
}

func TestRank_SortsByDistanceAndCaps(t *testing.T) {
	t.Parallel()
	ref := lahoreTrip("ref", "user-ref", 0, 0)

	var candidates []*domain.Trip
	for i := 15; i > 0; i-- {
		candidates = append(candidates, lahoreTrip(fmt.Sprintf("t%02d", i), fmt.Sprintf("u%02d", i), float64(i)*0.005, 0))
	}

	matches := Rank(ref, candidates, 20)
	require.Len(t, matches, MaxMatches)
	assert.Equal(t, "t01", matches[0].TripB)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].DistanceKm, matches[i].DistanceKm)
	}
}

func TestRank_MatchFields(t *testing.T) {
	t.Parallel()
	ref := lahoreTrip("ref", "user-a", 0, 0)
	same := lahoreTrip("same", "user-b", 0, 0)
	farther := lahoreTrip("farther", "user-c", 0.05, 0)
	farther.Pickup.Address = "  Liberty\x01 Market "

	matches := Rank(ref, []*domain.Trip{farther, same}, 10)
	require.Len(t, matches, 2)

	assert.Equal(t, "same", matches[0].TripB)
	assert.Equal(t, 0.0, matches[0].DistanceKm)
	assert.Equal(t, MinEtaMinutes, matches[0].EtaMinutes)
	assert.Equal(t, 1, matches[0].Riders)
	assert.Equal(t, domain.MatchStatusPending, matches[0].Status)

	// 0.05 degrees of latitude is ~5.6km.
	assert.InDelta(t, 5.6, matches[1].DistanceKm, 0.1)
	assert.Equal(t, int(math.Round(matches[1].DistanceKm*2)), matches[1].EtaMinutes)
	assert.Equal(t, "Liberty Market", matches[1].PickupAddress)
}

func TestRank_SkipsInvalidCandidates(t *testing.T) {
	t.Parallel()
	ref := lahoreTrip("ref", "user-a", 0, 0)

	broken := lahoreTrip("broken", "user-b", 0, 0)
	broken.Pickup.Latitude = 120

	matches := Rank(ref, []*domain.Trip{nil, broken, {ID: "bare"}}, 10)
	assert.Empty(t, matches)
}

func TestMatchID_IsOrderIndependent(t *testing.T) {
	t.Parallel()
	assert.Equal(t, domain.MatchID("a", "b"), domain.MatchID("b", "a"))
	assert.NotEqual(t, domain.MatchID("a", "bc"), domain.MatchID("ab", "c"))
}

// ──────────────────────────────────────────────
// 3. SCANS & PERSISTENCE
// ──────────────────────────────────────────────

func TestFindMatches_TwoNearbyRiders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	trips := NewTripService(env.deps)
	matching := NewMatchingService(env.deps)
	ctx := context.Background()

	a, err := trips.CreateTrip(ctx, CreateTripRequest{
		UserID:         "user-a",
		Pickup:         domain.Location{Latitude: 31.52, Longitude: 74.35},
		Dropoff:        domain.Location{Latitude: 31.54, Longitude: 74.38},
		VehicleType:    domain.VehicleCar,
		EstimatedPrice: 200,
	})
	require.NoError(t, err)

	b, err := trips.CreateTrip(ctx, CreateTripRequest{
		UserID:         "user-b",
		Pickup:         domain.Location{Latitude: 31.521, Longitude: 74.351},
		Dropoff:        domain.Location{Latitude: 31.541, Longitude: 74.381},
		VehicleType:    domain.VehicleBike,
		EstimatedPrice: 60,
	})
	require.NoError(t, err)

	matches, err := matching.FindMatches(ctx, a.Trip.ID, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, b.Trip.ID, matches[0].TripB)
	assert.GreaterOrEqual(t, matches[0].DistanceKm, 0.1)
	assert.LessOrEqual(t, matches[0].DistanceKm, 0.2)

	stored, err := matching.ListMatchesForTrip(ctx, b.Trip.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, matches[0].ID, stored[0].ID)
	assert.Equal(t, testStart, stored[0].CreatedAt)
}

func TestFindMatches_RescanKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)
	ctx := context.Background()

	ref := seedTrip(t, env.store, *lahoreTrip("ref", "user-a", 0, 0))
	seedTrip(t, env.store, *lahoreTrip("other", "user-b", 0.001, 0))

	first, err := matching.FindMatches(ctx, ref.ID, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	env.clock.Advance(time.Hour)
	_, err = matching.FindMatches(ctx, ref.ID, 10)
	require.NoError(t, err)

	again, err := env.store.Matches().GetByID(ctx, first[0].ID)
	require.NoError(t, err)
	assert.Equal(t, testStart, again.CreatedAt)
}

func TestFindMatches_Errors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)

	_, err := matching.FindMatches(context.Background(), "bad id!", 10)
	assert.ErrorIs(t, err, ErrInvalidTripID)

	_, err = matching.FindMatches(context.Background(), "missing", 10)
	assert.Error(t, err)
}

func TestPersist_DropsSupersededScan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)
	ctx := context.Background()

	ref := seedTrip(t, env.store, *lahoreTrip("ref", "user-a", 0, 0))
	stale := Rank(ref, []*domain.Trip{lahoreTrip("old-candidate", "user-b", 0.001, 0)}, 10)
	require.Len(t, stale, 1)

	staleSeq := matching.beginScan(ref.ID)
	latestSeq := matching.beginScan(ref.ID)

	require.NoError(t, matching.persist(ctx, ref.ID, staleSeq, stale))
	_, err := env.store.Matches().GetByID(ctx, stale[0].ID)
	assert.Error(t, err, "superseded scan must not be written")

	require.NoError(t, matching.persist(ctx, ref.ID, latestSeq, stale))
	_, err = env.store.Matches().GetByID(ctx, stale[0].ID)
	assert.NoError(t, err)
}

func TestPersist_IsAllOrNothing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	ref := seedTrip(t, env.store, *lahoreTrip("ref", "user-a", 0, 0))
	candidates := []*domain.Trip{
		lahoreTrip("c1", "user-b", 0.001, 0),
		lahoreTrip("c2", "user-c", 0.002, 0),
		lahoreTrip("c3", "user-d", 0.003, 0),
	}
	matches := Rank(ref, candidates, 10)
	require.Len(t, matches, 3)

	deps := env.deps
	deps.Store = &failingUpsertStore{Store: env.store, failAt: 2}
	matching := NewMatchingService(deps)

	seq := matching.beginScan(ref.ID)
	err := matching.persist(ctx, ref.ID, seq, matches)
	require.ErrorIs(t, err, errUpsertFailed)

	stored, err := env.store.Matches().ListByTrip(ctx, ref.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "the first upsert must be rolled back with the batch")
}

func TestPersist_SkipsFinishedReference(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)
	ctx := context.Background()

	done := *lahoreTrip("done", "user-a", 0, 0)
	done.Status = domain.TripStatusCompleted
	seedTrip(t, env.store, done)
	matches := Rank(&done, []*domain.Trip{lahoreTrip("other", "user-b", 0.001, 0)}, 10)
	require.Len(t, matches, 1)

	seq := matching.beginScan(done.ID)
	require.NoError(t, matching.persist(ctx, done.ID, seq, matches))

	stored, err := env.store.Matches().ListByTrip(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	found, err := matching.FindMatches(ctx, done.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestScanSequence_ForgottenWhenDone(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)
	ctx := context.Background()

	ref := seedTrip(t, env.store, *lahoreTrip("ref", "user-a", 0, 0))
	seedTrip(t, env.store, *lahoreTrip("other", "user-b", 0.001, 0))
	lonely := seedTrip(t, env.store, *lahoreTrip("lonely", "user-c", 1, 1))

	_, err := matching.FindMatches(ctx, ref.ID, 10)
	require.NoError(t, err)
	_, err = matching.FindMatches(ctx, lonely.ID, 10)
	require.NoError(t, err)

	results := make(chan []domain.Match, 16)
	sub, err := matching.Watch(ref, 10, func(m []domain.Match) { results <- m }, nil)
	require.NoError(t, err)
	require.Len(t, receive(t, results), 1)
	sub.Stop()
	matching.Wait()

	matching.mu.Lock()
	defer matching.mu.Unlock()
	assert.Empty(t, matching.scanSeq)
}

func TestPersist_SkipsSelfMatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)

	seq := matching.beginScan("ref")
	err := matching.persist(context.Background(), "ref", seq, []domain.Match{
		{ID: "ref.ref", TripA: "ref", TripB: "ref"},
	})
	require.NoError(t, err)

	_, err = env.store.Matches().GetByID(context.Background(), "ref.ref")
	assert.Error(t, err)
}

// ──────────────────────────────────────────────
// 4. LIVE SCANS
// ──────────────────────────────────────────────

func TestWatch_RescansOnTripChanges(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	trips := NewTripService(env.deps)
	matching := NewMatchingService(env.deps)
	ctx := context.Background()

	ref := seedTrip(t, env.store, *lahoreTrip("ref", "user-a", 0, 0))

	results := make(chan []domain.Match, 16)
	sub, err := matching.Watch(ref, 10, func(m []domain.Match) { results <- m }, nil)
	require.NoError(t, err)

	assert.Empty(t, receive(t, results))

	_, err = trips.CreateTrip(ctx, CreateTripRequest{
		UserID:         "user-b",
		Pickup:         domain.Location{Latitude: 31.521, Longitude: 74.351},
		Dropoff:        domain.Location{Latitude: 31.541, Longitude: 74.381},
		VehicleType:    domain.VehicleBike,
		EstimatedPrice: 60,
	})
	require.NoError(t, err)

	var latest []domain.Match
	require.Eventually(t, func() bool {
		select {
		case latest = <-results:
		default:
		}
		return len(latest) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sub.Stop()
	matching.Wait()

	stored, err := matching.ListMatchesForTrip(ctx, ref.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestWatch_FinishedReferenceStopsMatching(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	trips := NewTripService(env.deps)
	matching := NewMatchingService(env.deps)
	ctx := context.Background()

	ref := seedTrip(t, env.store, *lahoreTrip("ref", "user-a", 0, 0))
	seedTrip(t, env.store, *lahoreTrip("other", "user-b", 0.001, 0))

	results := make(chan []domain.Match, 16)
	sub, err := matching.Watch(ref, 10, func(m []domain.Match) { results <- m }, nil)
	require.NoError(t, err)
	defer sub.Stop()

	require.Len(t, receive(t, results), 1)
	require.Eventually(t, func() bool {
		stored, err := env.store.Matches().ListByTrip(ctx, ref.ID)
		return err == nil && len(stored) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The status change comes from outside the watcher, as a REST call or
	// another device would make it.
	for _, status := range []domain.TripStatus{domain.TripStatusActive, domain.TripStatusCompleted} {
		_, err = trips.UpdateTripStatus(ctx, UpdateTripStatusRequest{TripID: ref.ID, Status: status})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		select {
		case m := <-results:
			return len(m) == 0
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	// Later trip changes keep the result empty and write nothing.
	seedTrip(t, env.store, *lahoreTrip("late", "user-c", 0.002, 0))
	env.hub.Publish(live.TopicTrips)
	time.Sleep(50 * time.Millisecond)
	matching.Wait()

	stored, err := env.store.Matches().ListByTrip(ctx, ref.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestWatch_NoDeliveryAfterStop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)

	ref := seedTrip(t, env.store, *lahoreTrip("ref", "user-a", 0, 0))

	results := make(chan []domain.Match, 16)
	sub, err := matching.Watch(ref, 10, func(m []domain.Match) { results <- m }, nil)
	require.NoError(t, err)
	receive(t, results)

	sub.Stop()
	seedTrip(t, env.store, *lahoreTrip("late", "user-b", 0.001, 0))
	env.hub.Publish(live.TopicTrips)

	select {
	case <-results:
		t.Fatal("delivery after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_ReportsScanErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)

	ref := lahoreTrip("ref", "user-a", 0, 0)
	env.store.InjectError(memory.OpTripList, assert.AnError)

	errs := make(chan error, 1)
	sub, err := matching.Watch(ref, 10, func([]domain.Match) {}, func(err error) { errs <- err })
	require.NoError(t, err)
	defer sub.Stop()

	assert.ErrorIs(t, receive(t, errs), assert.AnError)
}

func TestWatch_RejectsInvalidTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	matching := NewMatchingService(env.deps)

	_, err := matching.Watch(&domain.Trip{ID: "x"}, 10, func([]domain.Match) {}, nil)
	assert.ErrorIs(t, err, ErrInvalidTrip)
}
