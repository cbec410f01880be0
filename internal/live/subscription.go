package live

import (
	"context"
	"sync"
)

// Subscription is a handle on a running live query.
type Subscription struct {
	// mu is held while a callback runs, so Stop waits for an in-flight
	// callback and no callback starts after Stop returns.
	mu      sync.Mutex
	stopped bool

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{cancel: cancel, done: make(chan struct{})}
}

// Stop cancels the subscription. No callback is invoked after Stop returns.
// Stop must not be called from within the subscription's own callback.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	})
}

// Done is closed when the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stopped reports whether Stop has been called.
func (s *Subscription) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Subscription) invoke(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	fn()
}

// Watch runs query immediately and again after every change published on
// topic, passing each result to deliver. Changes that arrive while a query
// or callback is running are coalesced into one re-run against the latest
// data.
func Watch[T any](hub *Hub, topic string, query func(ctx context.Context) (T, error), deliver func(T, error)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	l, unlisten := hub.listen(topic)
	sub := newSubscription(cancel)

	go func() {
		defer close(sub.done)
		defer unlisten()

		for {
			v, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			sub.invoke(func() { deliver(v, err) })

			select {
			case <-ctx.Done():
				return
			case <-l.ch:
			}
		}
	}()

	return sub
}

// Empty delivers the zero value once and never again. It backs views whose
// key failed validation.
func Empty[T any](deliver func(T, error)) *Subscription {
	sub := newSubscription(func() {})

	go func() {
		defer close(sub.done)
		var zero T
		sub.invoke(func() { deliver(zero, nil) })
	}()

	return sub
}
