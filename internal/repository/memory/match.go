package memory

import (
	"context"
	"sort"

	"humgo/internal/domain"
	"humgo/internal/repository"
)

type matchRepo struct {
	s *Store
}

func (r *matchRepo) Upsert(_ context.Context, match *domain.Match) error {
	if err := r.s.faults.get(OpMatchUpsert); err != nil {
		return err
	}
	if match.TripA == match.TripB {
		return repository.ErrSelfMatch
	}
	r.s.write(func(d *data) {
		m := *match
		if existing, ok := d.matches[m.ID]; ok {
			m.Status = existing.Status
			m.CreatedAt = existing.CreatedAt
		}
		d.matches[m.ID] = m
	})
	return nil
}

func (r *matchRepo) GetByID(_ context.Context, id string) (*domain.Match, error) {
	if err := r.s.faults.get(OpMatchGet); err != nil {
		return nil, err
	}
	var (
		m  domain.Match
		ok bool
	)
	r.s.read(func(d *data) {
		m, ok = d.matches[id]
	})
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r *matchRepo) DeleteByTripA(_ context.Context, tripID string) (int, error) {
	if err := r.s.faults.get(OpMatchDeleteByTripA); err != nil {
		return 0, err
	}
	n := 0
	r.s.write(func(d *data) {
		for id, m := range d.matches {
			if m.TripA == tripID {
				delete(d.matches, id)
				n++
			}
		}
	})
	return n, nil
}

func (r *matchRepo) ListByTrip(_ context.Context, tripID string) ([]*domain.Match, error) {
	if err := r.s.faults.get(OpMatchList); err != nil {
		return nil, err
	}
	var matches []*domain.Match
	r.s.read(func(d *data) {
		for _, m := range d.matches {
			m := m
			if m.Involves(tripID) {
				matches = append(matches, &m)
			}
		}
	})
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}
