package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"humgo/internal/repository"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Store is a PostgreSQL implementation of repository.Store.
type Store struct {
	db *sql.DB
	q  Querier
}

// NewStore creates a store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Trips implements repository.Store.
func (s *Store) Trips() repository.TripRepository { return NewTripRepository(s.q) }

// Matches implements repository.Store.
func (s *Store) Matches() repository.MatchRepository { return NewMatchRepository(s.q) }

// Messages implements repository.Store.
func (s *Store) Messages() repository.MessageRepository { return NewMessageRepository(s.q) }

// WithinTx implements repository.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.db == nil {
		// Already inside a transaction.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Store{q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ repository.Store = (*Store)(nil)
