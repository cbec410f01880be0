package memory

import (
	"context"

	"humgo/internal/domain"
)

type messageRepo struct {
	s *Store
}

func (r *messageRepo) Create(_ context.Context, msg *domain.Message) error {
	if err := r.s.faults.get(OpMessageCreate); err != nil {
		return err
	}
	r.s.write(func(d *data) {
		d.messages[msg.MatchID] = append(d.messages[msg.MatchID], *msg)
	})
	return nil
}

// ListLatest returns messages in insertion order, which is created_at order
// for a single writer clock.
func (r *messageRepo) ListLatest(_ context.Context, matchID string, limit int) ([]*domain.Message, error) {
	if err := r.s.faults.get(OpMessageList); err != nil {
		return nil, err
	}
	var out []*domain.Message
	r.s.read(func(d *data) {
		thread := d.messages[matchID]
		if limit > 0 && len(thread) > limit {
			thread = thread[len(thread)-limit:]
		}
		out = make([]*domain.Message, 0, len(thread))
		for i := range thread {
			m := thread[i]
			out = append(out, &m)
		}
	})
	return out, nil
}
