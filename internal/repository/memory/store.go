// Package memory is an in-process implementation of repository.Store. It
// backs local development and doubles as the store in tests.
package memory

import (
	"context"
	"sync"

	"humgo/internal/domain"
	"humgo/internal/repository"
)

// Operation names accepted by InjectError.
const (
	OpTripCreate         = "trips.create"
	OpTripGet            = "trips.get"
	OpTripUpdateStatus   = "trips.update_status"
	OpTripList           = "trips.list"
	OpMatchUpsert        = "matches.upsert"
	OpMatchGet           = "matches.get"
	OpMatchDeleteByTripA = "matches.delete_by_trip_a"
	OpMatchList          = "matches.list"
	OpMessageCreate      = "messages.create"
	OpMessageList        = "messages.list"
	OpCommit             = "tx.commit"
)

// tripRow keeps the insertion sequence next to the trip so trips created
// within the same clock tick still have a total order.
type tripRow struct {
	trip domain.Trip
	seq  int64
}

type data struct {
	trips    map[string]tripRow
	matches  map[string]domain.Match
	messages map[string][]domain.Message // by match id, insertion order
}

func newData() *data {
	return &data{
		trips:    make(map[string]tripRow),
		matches:  make(map[string]domain.Match),
		messages: make(map[string][]domain.Message),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.trips {
		c.trips[k] = v
	}
	for k, v := range d.matches {
		c.matches[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = append([]domain.Message(nil), v...)
	}
	return c
}

type faults struct {
	mu   sync.Mutex
	errs map[string]error
}

func (f *faults) get(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}

// Store is a mutex-guarded in-memory repository.Store. Transactions work on a
// private copy of the data that replaces the shared copy on commit, so readers
// never observe a half-applied batch.
type Store struct {
	mu     *sync.RWMutex
	data   *data
	inTx   bool
	faults *faults
	seq    *sequence
}

// sequence orders rows created within the same clock tick.
type sequence struct {
	mu sync.Mutex
	n  int64
}

func (s *sequence) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		mu:     &sync.RWMutex{},
		data:   newData(),
		faults: &faults{errs: make(map[string]error)},
		seq:    &sequence{},
	}
}

// InjectError makes every subsequent call of op fail with err. A nil err
// clears the fault.
func (s *Store) InjectError(op string, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if err == nil {
		delete(s.faults.errs, op)
		return
	}
	s.faults.errs[op] = err
}

// Trips implements repository.Store.
func (s *Store) Trips() repository.TripRepository { return &tripRepo{s: s} }

// Matches implements repository.Store.
func (s *Store) Matches() repository.MatchRepository { return &matchRepo{s: s} }

// Messages implements repository.Store.
func (s *Store) Messages() repository.MessageRepository { return &messageRepo{s: s} }

// WithinTx implements repository.Store. Transactions are serialised; fn must
// only use tx, not the outer store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{
		mu:     s.mu,
		data:   s.data.clone(),
		inTx:   true,
		faults: s.faults,
		seq:    s.seq,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.faults.get(OpCommit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

// read runs fn with shared access to the current data.
func (s *Store) read(fn func(d *data)) {
	if s.inTx {
		fn(s.data)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// write runs fn with exclusive access to the current data.
func (s *Store) write(fn func(d *data)) {
	if s.inTx {
		fn(s.data)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

var _ repository.Store = (*Store)(nil)
