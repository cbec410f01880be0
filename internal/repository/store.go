package repository

import "context"

// Store groups the repositories behind one transactional boundary.
type Store interface {
	Trips() TripRepository
	Matches() MatchRepository
	Messages() MessageRepository

	// WithinTx runs fn against a transactional view of the store. Writes made
	// through tx are committed together when fn returns nil and discarded
	// otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
