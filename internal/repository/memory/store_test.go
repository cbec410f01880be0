package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humgo/internal/domain"
	"humgo/internal/repository"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTrip(id, user string, status domain.TripStatus, created time.Time) *domain.Trip {
	return &domain.Trip{
		ID:        id,
		UserID:    user,
		Pickup:    domain.Location{Latitude: 31.52, Longitude: 74.35},
		Dropoff:   domain.Location{Latitude: 31.54, Longitude: 74.38},
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestTrips_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Trips().Create(ctx, newTrip("t1", "u1", domain.TripStatusPending, base)))
	assert.ErrorIs(t, s.Trips().Create(ctx, newTrip("t1", "u2", domain.TripStatusPending, base)), repository.ErrAlreadyExists)

	got, err := s.Trips().GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	got.UserID = "mutated"
	again, _ := s.Trips().GetByID(ctx, "t1")
	assert.Equal(t, "u1", again.UserID, "callers receive copies")

	_, err = s.Trips().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTrips_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Trips().Create(ctx, newTrip("t1", "u1", domain.TripStatusPending, base)))

	later := base.Add(time.Minute)
	require.NoError(t, s.Trips().UpdateStatus(ctx, "t1", domain.TripStatusActive, later))

	got, _ := s.Trips().GetByID(ctx, "t1")
	assert.Equal(t, domain.TripStatusActive, got.Status)
	assert.Equal(t, later, got.UpdatedAt)

	assert.ErrorIs(t, s.Trips().UpdateStatus(ctx, "nope", domain.TripStatusActive, later), repository.ErrNotFound)
}

func TestTrips_ListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Trips().Create(ctx, newTrip("old", "u1", domain.TripStatusPending, base)))
	require.NoError(t, s.Trips().Create(ctx, newTrip("new", "u2", domain.TripStatusActive, base.Add(time.Second))))
	require.NoError(t, s.Trips().Create(ctx, newTrip("tie", "u3", domain.TripStatusPending, base.Add(time.Second))))
	require.NoError(t, s.Trips().Create(ctx, newTrip("done", "u1", domain.TripStatusCompleted, base.Add(time.Hour))))

	trips, err := s.Trips().ListByStatus(ctx, domain.CandidateTripStatuses, 0)
	require.NoError(t, err)
	require.Len(t, trips, 3)
	assert.Equal(t, []string{"tie", "new", "old"}, ids(trips))

	limited, _ := s.Trips().ListByStatus(ctx, domain.CandidateTripStatuses, 2)
	assert.Equal(t, []string{"tie", "new"}, ids(limited))

	mine, _ := s.Trips().ListByUser(ctx, "u1", domain.CurrentTripStatuses, 1)
	assert.Equal(t, []string{"old"}, ids(mine))
}

func TestWithinTx_CommitsAtomically(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Trips().Create(ctx, newTrip("old", "u1", domain.TripStatusPending, base)))

	err := s.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Trips().UpdateStatus(ctx, "old", domain.TripStatusCancelled, base); err != nil {
			return err
		}
		return tx.Trips().Create(ctx, newTrip("new", "u1", domain.TripStatusPending, base.Add(time.Second)))
	})
	require.NoError(t, err)

	open, _ := s.Trips().ListByUser(ctx, "u1", domain.OpenTripStatuses, 0)
	assert.Equal(t, []string{"new"}, ids(open))
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Trips().Create(ctx, newTrip("old", "u1", domain.TripStatusPending, base)))

	boom := errors.New("insert failed")
	s.InjectError(OpTripCreate, boom)

	err := s.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Trips().UpdateStatus(ctx, "old", domain.TripStatusCancelled, base); err != nil {
			return err
		}
		return tx.Trips().Create(ctx, newTrip("new", "u1", domain.TripStatusPending, base))
	})
	assert.ErrorIs(t, err, boom)

	old, _ := s.Trips().GetByID(ctx, "old")
	assert.Equal(t, domain.TripStatusPending, old.Status, "cancellation must not leak out of a failed batch")
}

func TestWithinTx_CommitFault(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("commit failed")
	s.InjectError(OpCommit, boom)

	err := s.WithinTx(ctx, func(tx repository.Store) error {
		return tx.Trips().Create(ctx, newTrip("t1", "u1", domain.TripStatusPending, base))
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Trips().GetByID(ctx, "t1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	s.InjectError(OpCommit, nil)
	require.NoError(t, s.WithinTx(ctx, func(tx repository.Store) error {
		return tx.Trips().Create(ctx, newTrip("t1", "u1", domain.TripStatusPending, base))
	}))
}

func TestMatches_UpsertKeepsStatusAndCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := &domain.Match{
		ID: domain.MatchID("a", "b"), TripA: "a", TripB: "b",
		DistanceKm: 1.2, Status: domain.MatchStatusChatting, CreatedAt: base,
	}
	require.NoError(t, s.Matches().Upsert(ctx, first))

	second := *first
	second.DistanceKm = 0.4
	second.Status = domain.MatchStatusPending
	second.CreatedAt = base.Add(time.Hour)
	require.NoError(t, s.Matches().Upsert(ctx, &second))

	got, err := s.Matches().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.DistanceKm)
	assert.Equal(t, domain.MatchStatusChatting, got.Status)
	assert.Equal(t, base, got.CreatedAt)

	assert.ErrorIs(t, s.Matches().Upsert(ctx, &domain.Match{ID: "x.x", TripA: "x", TripB: "x"}), repository.ErrSelfMatch)
}

func TestMatches_DeleteByTripAAndList(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, m := range []*domain.Match{
		{ID: domain.MatchID("a", "b"), TripA: "a", TripB: "b", DistanceKm: 2},
		{ID: domain.MatchID("a", "c"), TripA: "a", TripB: "c", DistanceKm: 1},
		{ID: domain.MatchID("d", "a"), TripA: "d", TripB: "a", DistanceKm: 3},
	} {
		require.NoError(t, s.Matches().Upsert(ctx, m))
	}

	listed, err := s.Matches().ListByTrip(ctx, "a")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, 1.0, listed[0].DistanceKm)
	assert.Equal(t, 3.0, listed[2].DistanceKm)

	n, err := s.Matches().DeleteByTripA(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, _ := s.Matches().ListByTrip(ctx, "a")
	require.Len(t, left, 1)
	assert.Equal(t, "d", left[0].TripA)
}

func TestMessages_ListLatestAscending(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Messages().Create(ctx, &domain.Message{
			ID: fmt.Sprintf("m%d", i), MatchID: "a.b", Text: fmt.Sprintf("%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.Messages().Create(ctx, &domain.Message{ID: "other", MatchID: "c.d"}))

	latest, err := s.Messages().ListLatest(ctx, "a.b", 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, "m2", latest[0].ID)
	assert.Equal(t, "m4", latest[2].ID)

	all, _ := s.Messages().ListLatest(ctx, "a.b", 0)
	assert.Len(t, all, 5)
}

func ids(trips []*domain.Trip) []string {
	out := make([]string, len(trips))
	for i, t := range trips {
		out[i] = t.ID
	}
	return out
}
