package repository

import (
	"context"

	"humgo/internal/domain"
)

// MessageRepository defines the persistence operations for chat messages.
type MessageRepository interface {
	// Create persists a new message.
	Create(ctx context.Context, msg *domain.Message) error

	// ListLatest retrieves the newest limit messages of a thread in
	// ascending time order.
	ListLatest(ctx context.Context, matchID string, limit int) ([]*domain.Message, error)
}
