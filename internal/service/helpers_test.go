package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"humgo/internal/clock"
	"humgo/internal/domain"
	"humgo/internal/live"
	"humgo/internal/redis"
	"humgo/internal/repository"
	"humgo/internal/repository/memory"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	store *memory.Store
	hub   *live.Hub
	clock *clock.Fake
	deps  Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store: memory.NewStore(),
		hub:   live.NewHub(),
		clock: clock.NewFake(testStart),
	}
	env.deps = Deps{
		Store: env.store,
		Hub:   env.hub,
		Clock: env.clock,
	}
	return env
}

// Bandra to Andheri, about 4 km.
func tripRequest(userID string) CreateTripRequest {
	return CreateTripRequest{
		UserID:         userID,
		Pickup:         domain.Location{Latitude: 19.0596, Longitude: 72.8295, Address: "Bandra West"},
		Dropoff:        domain.Location{Latitude: 19.1136, Longitude: 72.8697, Address: "Andheri East"},
		VehicleType:    domain.VehicleCar,
		EstimatedPrice: 250,
	}
}

func seedTrip(t *testing.T, store repository.Store, trip domain.Trip) *domain.Trip {
	t.Helper()
	if trip.VehicleType == "" {
		trip.VehicleType = domain.VehicleCar
	}
	if trip.Status == "" {
		trip.Status = domain.TripStatusPending
	}
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = testStart
		trip.UpdatedAt = testStart
	}
	if err := store.Trips().Create(context.Background(), &trip); err != nil {
		t.Fatalf("seed trip %s: %v", trip.ID, err)
	}
	return &trip
}

// slowStore blocks every transaction until its context ends.
type slowStore struct {
	repository.Store
}

func (s slowStore) WithinTx(ctx context.Context, _ func(tx repository.Store) error) error {
	<-ctx.Done()
	return ctx.Err()
}

var errUpsertFailed = errors.New("upsert failed")

// failingUpsertStore fails the failAt-th match upsert made through it,
// counting across transactions.
type failingUpsertStore struct {
	repository.Store
	failAt int32
	calls  int32
}

func (s *failingUpsertStore) Matches() repository.MatchRepository {
	return failingMatches{MatchRepository: s.Store.Matches(), owner: s}
}

func (s *failingUpsertStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&failingUpsertTx{Store: tx, owner: s})
	})
}

type failingUpsertTx struct {
	repository.Store
	owner *failingUpsertStore
}

func (t *failingUpsertTx) Matches() repository.MatchRepository {
	return failingMatches{MatchRepository: t.Store.Matches(), owner: t.owner}
}

type failingMatches struct {
	repository.MatchRepository
	owner *failingUpsertStore
}

func (m failingMatches) Upsert(ctx context.Context, match *domain.Match) error {
	if atomic.AddInt32(&m.owner.calls, 1) == m.owner.failAt {
		return errUpsertFailed
	}
	return m.MatchRepository.Upsert(ctx, match)
}

// recordingStore records the trip reads and locks made inside transactions.
type recordingStore struct {
	repository.Store
	mu    sync.Mutex
	calls []string
}

func (s *recordingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&recordingTx{Store: tx, owner: s})
	})
}

type recordingTx struct {
	repository.Store
	owner *recordingStore
}

func (t *recordingTx) Trips() repository.TripRepository {
	return recordingTrips{TripRepository: t.Store.Trips(), owner: t.owner}
}

type recordingTrips struct {
	repository.TripRepository
	owner *recordingStore
}

func (r recordingTrips) LockUser(ctx context.Context, userID string) error {
	r.owner.record("lock_user:" + userID)
	return r.TripRepository.LockUser(ctx, userID)
}

func (r recordingTrips) ListByUser(ctx context.Context, userID string, statuses []domain.TripStatus, limit int) ([]*domain.Trip, error) {
	r.owner.record("list_by_user:" + userID)
	return r.TripRepository.ListByUser(ctx, userID, statuses, limit)
}

func (r recordingTrips) GetForUpdate(ctx context.Context, id string) (*domain.Trip, error) {
	r.owner.record("get_for_update:" + id)
	return r.TripRepository.GetForUpdate(ctx, id)
}

// MockTripCache is an in-memory redis.TripCacheInterface.
type MockTripCache struct {
	mu          sync.Mutex
	trips       map[string]*redis.CachedTrip
	invalidated []string
}

func NewMockTripCache() *MockTripCache {
	return &MockTripCache{trips: make(map[string]*redis.CachedTrip)}
}

func (m *MockTripCache) GetTrip(_ context.Context, tripID string) (*redis.CachedTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trips[tripID], nil
}

func (m *MockTripCache) SetTrip(_ context.Context, trip *redis.CachedTrip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = trip
	return nil
}

func (m *MockTripCache) InvalidateTrip(_ context.Context, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips, tripID)
	m.invalidated = append(m.invalidated, tripID)
	return nil
}

func (m *MockTripCache) InvalidateTrips(ctx context.Context, tripIDs []string) error {
	for _, id := range tripIDs {
		_ = m.InvalidateTrip(ctx, id)
	}
	return nil
}

func (m *MockTripCache) Invalidated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invalidated...)
}

// MockLockStore grants one lock per user.
type MockLockStore struct {
	mu     sync.Mutex
	locked map[string]bool
}

func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locked: make(map[string]bool)}
}

func (m *MockLockStore) AcquireTripCreateLock(_ context.Context, userID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[userID] {
		return false, nil
	}
	m.locked[userID] = true
	return true, nil
}

func (m *MockLockStore) ReleaseTripCreateLock(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locked, userID)
	return nil
}

var (
	_ redis.TripCacheInterface = (*MockTripCache)(nil)
	_ redis.LockStoreInterface = (*MockLockStore)(nil)
)
