package tests

import (
	"testing"
	"time"

	"humgo/internal/clock"
	"humgo/internal/live"
	"humgo/internal/repository/memory"
	"humgo/internal/service"
)

type harness struct {
	store     *memory.Store
	clock     *clock.Fake
	publisher *MockEventPublisher
	locks     *MockLockStore
	cache     *MockTripCache

	trips    *service.TripService
	matching *service.MatchingService
	messages *service.MessageService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     memory.NewStore(),
		clock:     clock.NewFake(time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)),
		publisher: NewMockEventPublisher(),
		locks:     NewMockLockStore(),
		cache:     NewMockTripCache(),
	}
	deps := service.Deps{
		Store:     h.store,
		Hub:       live.NewHub(),
		Clock:     h.clock,
		Publisher: h.publisher,
		Locks:     h.locks,
		TripCache: h.cache,
	}
	h.trips = service.NewTripService(deps)
	h.matching = service.NewMatchingService(deps)
	h.messages = service.NewMessageService(deps)
	t.Cleanup(h.matching.Wait)
	return h
}
