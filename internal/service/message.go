package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"humgo/internal/domain"
	"humgo/internal/events"
	"humgo/internal/live"
	"humgo/internal/observability"
	"humgo/internal/validation"
)

const (
	// MessageCooldown is the minimum interval between messages by one sender.
	MessageCooldown = time.Second

	// MessageHistoryLimit caps the messages delivered by a thread view.
	MessageHistoryLimit = 200
)

// MessageService handles match chat threads.
type MessageService struct {
	deps   Deps
	logger *zap.Logger
}

// NewMessageService creates a new MessageService.
func NewMessageService(deps Deps) *MessageService {
	deps = deps.withDefaults()
	return &MessageService{
		deps:   deps,
		logger: deps.Logger.Named("message_service"),
	}
}

// AddMessageRequest contains the parameters for sending a message. TripID
// and ClientID are optional.
type AddMessageRequest struct {
	MatchID  string
	SenderID string
	Text     string
	TripID   string
	ClientID string
}

// Prepare validates and rate limits a message and returns its provisional
// form: a local id, the sanitised text and a client-side timestamp. Nothing
// is stored.
func (s *MessageService) Prepare(ctx context.Context, req AddMessageRequest) (*domain.Message, error) {
	if !validation.IsValidMatchID(req.MatchID) {
		return nil, ErrInvalidMatchID
	}

	sender := validation.SanitizeUserID(req.SenderID)
	if sender == "" {
		return nil, ErrInvalidSenderID
	}

	if problem := validation.CheckMessage(req.Text); problem != validation.MessageOK {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, problem)
	}

	if req.TripID != "" && !validation.IsValidID(req.TripID, validation.MaxTripIDLength) {
		return nil, ErrInvalidTripID
	}

	limited, err := s.deps.Limiter.IsRateLimited(ctx, "msg_"+sender, MessageCooldown)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if limited {
		observability.RateLimitedTotal.WithLabelValues("send_message").Inc()
		return nil, &RateLimitError{Operation: "send_message", RetryAfter: MessageCooldown}
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}

	return &domain.Message{
		ID:        domain.ProvisionalMessagePrefix + uuid.New().String(),
		ClientID:  clientID,
		MatchID:   req.MatchID,
		TripID:    req.TripID,
		SenderID:  sender,
		Text:      validation.SanitizeText(req.Text, validation.MaxMessageLength),
		CreatedAt: s.deps.Clock.Now(),
	}, nil
}

// Persist stores a prepared message under a server id and notifies the
// thread's watchers. The provisional message is not modified.
func (s *MessageService) Persist(ctx context.Context, provisional *domain.Message) (*domain.Message, error) {
	msg := *provisional
	msg.ID = uuid.New().String()
	msg.CreatedAt = s.deps.Clock.Now()

	if err := s.deps.Store.Messages().Create(ctx, &msg); err != nil {
		s.logger.Error("failed to persist message", zap.String("match_id", msg.MatchID), zap.Error(err))
		return nil, err
	}

	observability.MessagesSentTotal.Inc()
	s.deps.Hub.Publish(live.MessagesTopic(msg.MatchID))
	publishEvents(s.deps.Publisher, s.logger, events.Event{
		Type:       events.MessageSent,
		Key:        msg.MatchID,
		MatchID:    msg.MatchID,
		TripID:     msg.TripID,
		UserID:     msg.SenderID,
		OccurredAt: msg.CreatedAt,
	})
	return &msg, nil
}

// AddMessage prepares and persists a message in one step.
func (s *MessageService) AddMessage(ctx context.Context, req AddMessageRequest) (*domain.Message, error) {
	msg, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Persist(ctx, msg)
}

// ListMessages returns the latest MessageHistoryLimit messages of a thread,
// oldest first.
func (s *MessageService) ListMessages(ctx context.Context, matchID string) ([]*domain.Message, error) {
	if !validation.IsValidMatchID(matchID) {
		return nil, ErrInvalidMatchID
	}
	return s.deps.Store.Messages().ListLatest(ctx, matchID, MessageHistoryLimit)
}

// Watch delivers the thread now and after every new message. An invalid
// match id yields a single empty delivery.
func (s *MessageService) Watch(matchID string, fn func([]*domain.Message, error)) *live.Subscription {
	if !validation.IsValidMatchID(matchID) {
		s.logger.Warn("invalid match id for message listener")
		return live.Empty(fn)
	}

	return live.Watch(s.deps.Hub, live.MessagesTopic(matchID), func(ctx context.Context) ([]*domain.Message, error) {
		return s.deps.Store.Messages().ListLatest(ctx, matchID, MessageHistoryLimit)
	}, func(msgs []*domain.Message, err error) {
		if err != nil {
			s.logger.Warn("message listener failed", zap.String("match_id", matchID), zap.Error(err))
		}
		fn(msgs, err)
	})
}
