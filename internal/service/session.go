package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"humgo/internal/domain"
	"humgo/internal/live"
	"humgo/internal/observability"
	"humgo/internal/validation"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// State is a snapshot of everything a session derives for its user.
type State struct {
	UserID          string
	CurrentTrip     *domain.Trip
	Matches         []domain.Match
	MatchesLoading  bool
	MessagesMatchID string
	Messages        []domain.Message
	MessagesLoading bool

	// Generation increases on every Reset.
	Generation uint64
}

// Session is one client's view of the engine: its identity, current trip,
// ranked matches and open chat thread, kept live by subscriptions the
// session owns.
//
// Callbacks from a subscription only take mu. Starting and stopping
// subscriptions happens under lifecycle, never under mu, so Stop can wait
// for an in-flight callback without deadlocking.
type Session struct {
	trips    *TripService
	matching *MatchingService
	messages *MessageService
	logger   *zap.Logger
	onChange func(State)

	lifecycle sync.Mutex

	mu              sync.Mutex
	closed          bool
	gen             uint64
	userID          string
	currentTrip     *domain.Trip
	matches         []domain.Match
	matchesLoading  bool
	messagesMatchID string
	thread          []domain.Message // last persisted snapshot
	pending         []domain.Message // optimistic entries not yet seen in thread
	messagesLoading bool

	tripSub     *live.Subscription
	tripSubUser string
	matchSub    *live.Subscription
	msgSub      *live.Subscription
}

// NewSession creates a session. onChange, if set, receives a snapshot after
// every state change. It must not call back into the session's dispose
// functions, Reset or Close.
func NewSession(trips *TripService, matching *MatchingService, messages *MessageService, logger *zap.Logger, onChange func(State)) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		trips:    trips,
		matching: matching,
		messages: messages,
		logger:   logger.Named("session"),
		onChange: onChange,
	}
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UserID returns the sanitised id of the signed-in user.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SwitchUser tears the session down and adopts identity. No subscription can
// start between the teardown and the adoption.
func (s *Session) SwitchUser(identity domain.Identity) error {
	userID := validation.SanitizeUserID(identity.ID)

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.isClosed() {
		return ErrSessionClosed
	}
	s.resetLocked()
	if userID == "" {
		return ErrInvalidUserID
	}

	s.mu.Lock()
	s.userID = userID
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(st)
	return nil
}

// Reset disposes every subscription and clears all derived state, including
// the signed-in user.
func (s *Session) Reset() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.resetLocked()
}

// Close resets the session and rejects further subscriptions.
func (s *Session) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.resetLocked()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// resetLocked requires lifecycle to be held.
func (s *Session) resetLocked() {
	s.mu.Lock()
	s.gen++
	subs := []*live.Subscription{s.tripSub, s.matchSub, s.msgSub}
	s.tripSub, s.matchSub, s.msgSub = nil, nil, nil
	s.tripSubUser = ""
	s.userID = ""
	s.currentTrip = nil
	s.matches = nil
	s.matchesLoading = false
	s.messagesMatchID = ""
	s.thread = nil
	s.pending = nil
	s.messagesLoading = false
	st := s.snapshotLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		stopSub(sub)
	}
	s.emit(st)
}

// CreateTrip creates a trip for the signed-in user and makes it current.
func (s *Session) CreateTrip(ctx context.Context, req CreateTripRequest) (*CreateTripResult, error) {
	s.mu.Lock()
	userID, gen := s.userID, s.gen
	s.mu.Unlock()
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	req.UserID = userID
	result, err := s.trips.CreateTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Trip == nil {
		return result, nil
	}

	s.update(gen, func() {
		t := *result.Trip
		s.currentTrip = &t
	})
	return result, nil
}

// UpdateTripStatus changes the status of one of the user's trips.
func (s *Session) UpdateTripStatus(ctx context.Context, tripID string, status domain.TripStatus) (*domain.Trip, error) {
	s.mu.Lock()
	userID, gen := s.userID, s.gen
	s.mu.Unlock()
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	trip, err := s.trips.UpdateTripStatus(ctx, UpdateTripStatusRequest{
		TripID: tripID,
		Status: status,
		UserID: userID,
	})
	if err != nil {
		return nil, err
	}

	if trip.Status.Terminal() {
		s.finishTrip(gen, trip.ID)
		return trip, nil
	}
	s.update(gen, func() {
		if s.currentTrip != nil && s.currentTrip.ID == trip.ID {
			t := *trip
			s.currentTrip = &t
		}
	})
	return trip, nil
}

// CancelTrip cancels one of the user's trips.
func (s *Session) CancelTrip(ctx context.Context, tripID string) error {
	_, err := s.UpdateTripStatus(ctx, tripID, domain.TripStatusCancelled)
	return err
}

// finishTrip stops and clears the match view when the current trip reached
// a terminal status.
func (s *Session) finishTrip(gen uint64, tripID string) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.gen != gen || s.currentTrip == nil || s.currentTrip.ID != tripID {
		s.mu.Unlock()
		return
	}
	sub := s.matchSub
	s.matchSub = nil
	s.matches = nil
	s.matchesLoading = false
	s.currentTrip = nil
	st := s.snapshotLocked()
	s.mu.Unlock()

	stopSub(sub)
	s.emit(st)
}

// GenerateMatches makes trip current and attaches a live candidate scan for
// it, replacing any previous scan. An invalid trip is rejected without
// touching the session.
func (s *Session) GenerateMatches(trip *domain.Trip, radiusKm float64) error {
	if !validation.IsValidTrip(trip) {
		s.logger.Warn("generate matches called with invalid trip")
		return ErrInvalidTrip
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.matchSub
	s.matchSub = nil
	gen := s.gen
	t := *trip
	s.currentTrip = &t
	s.matches = nil
	s.matchesLoading = true
	st := s.snapshotLocked()
	s.mu.Unlock()

	stopSub(old)
	s.emit(st)

	sub, err := s.matching.Watch(trip, radiusKm, func(matches []domain.Match) {
		s.update(gen, func() {
			s.matches = append([]domain.Match(nil), matches...)
			s.matchesLoading = false
		})
	}, func(error) {
		s.update(gen, func() {
			s.matches = nil
			s.matchesLoading = false
		})
	})
	if err != nil {
		s.update(gen, func() { s.matchesLoading = false })
		return err
	}

	trackSub(sub)
	s.mu.Lock()
	s.matchSub = sub
	s.mu.Unlock()
	return nil
}

// ListenToMessages opens matchID's thread, replacing any open thread. The
// returned function closes it.
func (s *Session) ListenToMessages(matchID string) func() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	old := s.msgSub
	s.msgSub = nil
	gen := s.gen
	s.messagesMatchID = matchID
	s.thread = nil
	s.pending = nil
	s.messagesLoading = true
	st := s.snapshotLocked()
	s.mu.Unlock()

	stopSub(old)
	s.emit(st)

	sub := s.messages.Watch(matchID, func(msgs []*domain.Message, err error) {
		s.update(gen, func() {
			if s.messagesMatchID != matchID {
				return
			}
			s.messagesLoading = false
			if err != nil {
				s.thread = nil
				return
			}
			s.applyThreadLocked(msgs)
		})
	})
	trackSub(sub)

	s.mu.Lock()
	s.msgSub = sub
	s.mu.Unlock()

	return func() {
		s.lifecycle.Lock()
		defer s.lifecycle.Unlock()

		s.mu.Lock()
		if s.msgSub != sub {
			s.mu.Unlock()
			return
		}
		s.msgSub = nil
		s.messagesMatchID = ""
		s.thread = nil
		s.pending = nil
		s.messagesLoading = false
		st := s.snapshotLocked()
		s.mu.Unlock()

		stopSub(sub)
		s.emit(st)
	}
}

// ListenToUserActiveTrip keeps the current trip in sync with the user's most
// recent open or matched trip. Listening again for the same user returns the
// existing subscription's disposer. An invalid id returns a no-op.
func (s *Session) ListenToUserActiveTrip(userID string) func() {
	sanitized := validation.SanitizeUserID(userID)
	if sanitized == "" {
		s.logger.Warn("invalid user id for trip listener")
		return func() {}
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	if s.tripSub != nil && s.tripSubUser == sanitized {
		sub := s.tripSub
		s.mu.Unlock()
		return s.tripDisposer(sub)
	}
	old := s.tripSub
	s.tripSub = nil
	gen := s.gen
	s.mu.Unlock()

	stopSub(old)

	sub := s.trips.WatchUserActiveTrip(sanitized, func(trip *domain.Trip, err error) {
		s.update(gen, func() {
			if err != nil || trip == nil {
				s.currentTrip = nil
				return
			}
			t := *trip
			s.currentTrip = &t
		})
	})
	trackSub(sub)

	s.mu.Lock()
	s.tripSub = sub
	s.tripSubUser = sanitized
	s.mu.Unlock()

	return s.tripDisposer(sub)
}

func (s *Session) tripDisposer(sub *live.Subscription) func() {
	return func() {
		s.lifecycle.Lock()
		defer s.lifecycle.Unlock()

		s.mu.Lock()
		if s.tripSub != sub {
			s.mu.Unlock()
			return
		}
		s.tripSub = nil
		s.tripSubUser = ""
		s.mu.Unlock()

		stopSub(sub)
	}
}

// AddMessage sends a message from the signed-in user. When the message's
// thread is open it appears immediately under a provisional id, is replaced
// by the stored record once persisted and is removed again if persisting
// fails.
func (s *Session) AddMessage(ctx context.Context, req AddMessageRequest) (*domain.Message, error) {
	s.mu.Lock()
	req.SenderID = s.userID
	if req.TripID == "" && s.currentTrip != nil {
		req.TripID = s.currentTrip.ID
	}
	s.mu.Unlock()

	provisional, err := s.messages.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen := s.gen
	shown := s.messagesMatchID == provisional.MatchID
	s.mu.Unlock()

	if shown {
		s.update(gen, func() {
			s.pending = append(s.pending, *provisional)
		})
	}

	persisted, err := s.messages.Persist(ctx, provisional)
	if shown {
		s.update(gen, func() {
			for i := range s.pending {
				if s.pending[i].ID != provisional.ID {
					continue
				}
				if err != nil {
					s.pending = append(s.pending[:i], s.pending[i+1:]...)
				} else {
					s.pending[i] = *persisted
				}
				return
			}
		})
	}
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

// applyThreadLocked installs a persisted snapshot and drops pending entries
// it confirms.
func (s *Session) applyThreadLocked(msgs []*domain.Message) {
	s.thread = make([]domain.Message, 0, len(msgs))
	confirmed := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		s.thread = append(s.thread, *m)
		if m.ClientID != "" {
			confirmed[m.ClientID] = struct{}{}
		}
	}

	kept := s.pending[:0]
	for _, p := range s.pending {
		if _, ok := confirmed[p.ClientID]; !ok {
			kept = append(kept, p)
		}
	}
	s.pending = kept
}

// update applies fn under mu if the session has not been reset since gen
// was read, then emits the new state.
func (s *Session) update(gen uint64, fn func()) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	fn()
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(st)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) snapshotLocked() State {
	st := State{
		UserID:          s.userID,
		MatchesLoading:  s.matchesLoading,
		MessagesMatchID: s.messagesMatchID,
		MessagesLoading: s.messagesLoading,
		Generation:      s.gen,
	}
	if s.currentTrip != nil {
		t := *s.currentTrip
		st.CurrentTrip = &t
	}
	if len(s.matches) > 0 {
		st.Matches = append([]domain.Match(nil), s.matches...)
	}

	if len(s.thread) > 0 || len(s.pending) > 0 {
		st.Messages = make([]domain.Message, 0, len(s.thread)+len(s.pending))
		st.Messages = append(st.Messages, s.thread...)
		seen := make(map[string]struct{}, len(s.thread))
		for _, m := range s.thread {
			if m.ClientID != "" {
				seen[m.ClientID] = struct{}{}
			}
		}
		for _, p := range s.pending {
			if _, ok := seen[p.ClientID]; !ok {
				st.Messages = append(st.Messages, p)
			}
		}
	}
	return st
}

func (s *Session) emit(st State) {
	if s.onChange != nil {
		s.onChange(st)
	}
}

func trackSub(sub *live.Subscription) {
	if sub != nil {
		observability.LiveSubscriptions.Inc()
	}
}

func stopSub(sub *live.Subscription) {
	if sub == nil {
		return
	}
	sub.Stop()
	observability.LiveSubscriptions.Dec()
}
