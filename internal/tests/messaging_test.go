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
// 1. MESSAGE COOLDOWN
// ──────────────────────────────────────────────

func TestScenario_MessageCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	matchID := domain.MatchID("trip-a", "trip-b")

	_, err := h.messages.AddMessage(ctx, service.AddMessageRequest{MatchID: matchID, SenderID: "user-a", Text: "Hello"})
	require.NoError(t, err)

	_, err = h.messages.AddMessage(ctx, service.AddMessageRequest{MatchID: matchID, SenderID: "user-a", Text: "World"})
	require.ErrorIs(t, err, service.ErrRateLimited)

	h.clock.Advance(service.MessageCooldown)
	_, err = h.messages.AddMessage(ctx, service.AddMessageRequest{MatchID: matchID, SenderID: "user-a", Text: "World"})
	require.NoError(t, err)

	thread, err := h.messages.ListMessages(ctx, matchID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "Hello", thread[0].Text)
	assert.Equal(t, "World", thread[1].Text)

	require.Eventually(t, func() bool {
		return len(h.publisher.OfType(events.MessageSent)) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

// ──────────────────────────────────────────────
// 2. CHAT BETWEEN MATCHED RIDERS
// ──────────────────────────────────────────────

func TestScenario_MatchedRidersChat(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.trips.CreateTrip(ctx, lahoreRequest("user-a"))
	require.NoError(t, err)
	reqB := lahoreRequest("user-b")
	reqB.Dropoff.Longitude = 74.381
	b, err := h.trips.CreateTrip(ctx, reqB)
	require.NoError(t, err)

	riderA := service.NewSession(h.trips, h.matching, h.messages, nil, nil)
	defer riderA.Close()
	riderB := service.NewSession(h.trips, h.matching, h.messages, nil, nil)
	defer riderB.Close()
	require.NoError(t, riderA.SwitchUser(domain.Identity{ID: "user-a"}))
	require.NoError(t, riderB.SwitchUser(domain.Identity{ID: "user-b"}))

	matchID := domain.MatchID(a.Trip.ID, b.Trip.ID)
	stopA := riderA.ListenToMessages(matchID)
	defer stopA()
	stopB := riderB.ListenToMessages(matchID)
	defer stopB()

	sent, err := riderA.AddMessage(ctx, service.AddMessageRequest{MatchID: matchID, Text: "  on my way  ", TripID: a.Trip.ID})
	require.NoError(t, err)
	assert.False(t, sent.Provisional())
	assert.Equal(t, "user-a", sent.SenderID)

	require.Eventually(t, func() bool {
		st := riderB.State()
		return len(st.Messages) == 1 && st.Messages[0].ID == sent.ID
	}, 2*time.Second, 5*time.Millisecond)

	got := riderB.State().Messages[0]
	assert.Equal(t, "on my way", got.Text)
	assert.Equal(t, a.Trip.ID, got.TripID)

	_, err = riderB.AddMessage(ctx, service.AddMessageRequest{MatchID: matchID, Text: "see you"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := riderA.State()
		return len(st.Messages) == 2 && st.Messages[1].SenderID == "user-b"
	}, 2*time.Second, 5*time.Millisecond)
}
