package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"humgo/internal/domain"
	"humgo/internal/repository"
)

type tripRepo struct {
	s *Store
}

func (r *tripRepo) Create(_ context.Context, trip *domain.Trip) error {
	if err := r.s.faults.get(OpTripCreate); err != nil {
		return err
	}
	var err error
	r.s.write(func(d *data) {
		if _, exists := d.trips[trip.ID]; exists {
			err = fmt.Errorf("trip %s: %w", trip.ID, repository.ErrAlreadyExists)
			return
		}
		d.trips[trip.ID] = tripRow{trip: *trip, seq: r.s.seq.next()}
	})
	return err
}

func (r *tripRepo) GetByID(_ context.Context, id string) (*domain.Trip, error) {
	if err := r.s.faults.get(OpTripGet); err != nil {
		return nil, err
	}
	var (
		trip domain.Trip
		ok   bool
	)
	r.s.read(func(d *data) {
		var row tripRow
		row, ok = d.trips[id]
		trip = row.trip
	})
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &trip, nil
}

// GetForUpdate is GetByID; memory transactions are already serialised.
func (r *tripRepo) GetForUpdate(ctx context.Context, id string) (*domain.Trip, error) {
	return r.GetByID(ctx, id)
}

func (r *tripRepo) LockUser(context.Context, string) error { return nil }

func (r *tripRepo) UpdateStatus(_ context.Context, id string, status domain.TripStatus, at time.Time) error {
	if err := r.s.faults.get(OpTripUpdateStatus); err != nil {
		return err
	}
	found := false
	r.s.write(func(d *data) {
		row, ok := d.trips[id]
		if !ok {
			return
		}
		row.trip.Status = status
		row.trip.UpdatedAt = at
		d.trips[id] = row
		found = true
	})
	if !found {
		return repository.ErrNotFound
	}
	return nil
}

func (r *tripRepo) ListByUser(_ context.Context, userID string, statuses []domain.TripStatus, limit int) ([]*domain.Trip, error) {
	if err := r.s.faults.get(OpTripList); err != nil {
		return nil, err
	}
	return r.list(func(t *domain.Trip) bool {
		return t.UserID == userID && hasStatus(statuses, t.Status)
	}, limit), nil
}

func (r *tripRepo) ListByStatus(_ context.Context, statuses []domain.TripStatus, limit int) ([]*domain.Trip, error) {
	if err := r.s.faults.get(OpTripList); err != nil {
		return nil, err
	}
	return r.list(func(t *domain.Trip) bool {
		return hasStatus(statuses, t.Status)
	}, limit), nil
}

// list returns matching trips ordered by created_at desc, newest insert first
// on ties.
func (r *tripRepo) list(keep func(*domain.Trip) bool, limit int) []*domain.Trip {
	var rows []tripRow
	r.s.read(func(d *data) {
		for _, row := range d.trips {
			row := row
			if keep(&row.trip) {
				rows = append(rows, row)
			}
		}
	})

	sort.Slice(rows, func(i, j int) bool {
		ti, tj := rows[i].trip.CreatedAt, rows[j].trip.CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return rows[i].seq > rows[j].seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	trips := make([]*domain.Trip, 0, len(rows))
	for i := range rows {
		t := rows[i].trip
		trips = append(trips, &t)
	}
	return trips
}

func hasStatus(statuses []domain.TripStatus, s domain.TripStatus) bool {
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}
