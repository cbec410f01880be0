package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"humgo/internal/events"
	"humgo/internal/redis"
)

// ──────────────────────────────────────────────
// MOCK EVENT PUBLISHER
// ──────────────────────────────────────────────

// MockEventPublisher records published events.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []events.Event

	// Counters for verification
	PublishCallCount int32

	// Error injection
	PublishError error
}

// NewMockEventPublisher creates a new mock event publisher.
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) Publish(ctx context.Context, evts ...events.Event) error {
	atomic.AddInt32(&m.PublishCallCount, 1)
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evts...)
	return nil
}

func (m *MockEventPublisher) Close() error { return nil }

// OfType returns the recorded events of type t.
func (m *MockEventPublisher) OfType(t events.Type) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]time.Time

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locks: make(map[string]time.Time)}
}

func (m *MockLockStore) AcquireTripCreateLock(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if expires, ok := m.locks[userID]; ok && time.Now().Before(expires) {
		return false, nil
	}
	m.locks[userID] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockLockStore) ReleaseTripCreateLock(ctx context.Context, userID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, userID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK TRIP CACHE
// ──────────────────────────────────────────────

// MockTripCache is a mock implementation of TripCacheInterface.
type MockTripCache struct {
	mu    sync.RWMutex
	trips map[string]*redis.CachedTrip

	// Counters
	InvalidateCallCount int32
}

// NewMockTripCache creates a new mock trip cache.
func NewMockTripCache() *MockTripCache {
	return &MockTripCache{trips: make(map[string]*redis.CachedTrip)}
}

func (m *MockTripCache) GetTrip(ctx context.Context, tripID string) (*redis.CachedTrip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trips[tripID], nil
}

func (m *MockTripCache) SetTrip(ctx context.Context, trip *redis.CachedTrip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = trip
	return nil
}

func (m *MockTripCache) InvalidateTrip(ctx context.Context, tripID string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips, tripID)
	return nil
}

func (m *MockTripCache) InvalidateTrips(ctx context.Context, tripIDs []string) error {
	for _, id := range tripIDs {
		if err := m.InvalidateTrip(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Cached reports whether tripID is cached.
func (m *MockTripCache) Cached(tripID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trips[tripID]
	return ok
}

var (
	_ events.Publisher         = (*MockEventPublisher)(nil)
	_ redis.LockStoreInterface = (*MockLockStore)(nil)
	_ redis.TripCacheInterface = (*MockTripCache)(nil)
)
