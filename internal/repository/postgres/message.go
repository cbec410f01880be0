package postgres

import (
	"context"

	"humgo/internal/domain"
	"humgo/internal/repository"
)

// MessageRepository is a PostgreSQL implementation of repository.MessageRepository.
type MessageRepository struct {
	q Querier
}

// NewMessageRepository creates a message repository on q.
func NewMessageRepository(q Querier) *MessageRepository {
	return &MessageRepository{q: q}
}

// Create persists a new message.
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, client_id, match_id, trip_id, sender_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.ExecContext(ctx, query,
		msg.ID,
		msg.ClientID,
		msg.MatchID,
		msg.TripID,
		msg.SenderID,
		msg.Text,
		msg.CreatedAt,
	)
	return err
}

// ListLatest retrieves the newest limit messages of a thread, oldest first.
func (r *MessageRepository) ListLatest(ctx context.Context, matchID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, client_id, match_id, trip_id, sender_id, text, created_at
		FROM (
			SELECT id, client_id, match_id, trip_id, sender_id, text, created_at, seq
			FROM messages
			WHERE match_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) latest
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.q.QueryContext(ctx, query, matchID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ClientID,
			&msg.MatchID,
			&msg.TripID,
			&msg.SenderID,
			&msg.Text,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// Ensure MessageRepository implements repository.MessageRepository.
var _ repository.MessageRepository = (*MessageRepository)(nil)
