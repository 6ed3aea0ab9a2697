// Package bus is a typed many-consumer broadcast stream.
//
// Every subscriber gets its own buffered channel and sees every value published after it
// subscribed, in publish order. Publish blocks on a full subscriber until the value is taken
// or the context ends; a slow consumer slows the producer instead of losing notifications.
package bus

import (
	"context"
	"sync"
)

// DefaultBuffer is the subscriber buffer used when Subscribe gets a non-positive size.
const DefaultBuffer = 256

// Stream broadcasts values of type T.
type Stream[T any] struct {
	// mu guards subs and closed. Publish holds it shared, so Subscribe and Close wait for
	// in-flight publishes.
	mu     sync.RWMutex
	subs   map[*subscription[T]]struct{}
	closed bool

	// done releases blocked publishers before Close takes the lock.
	done      chan struct{}
	closeOnce sync.Once
}

type subscription[T any] struct {
	ch   chan T
	done chan struct{}
}

// New creates an empty stream.
func New[T any]() *Stream[T] {
	return &Stream[T]{
		subs: make(map[*subscription[T]]struct{}),
		done: make(chan struct{}),
	}
}

// Subscribe registers a consumer. The returned cancel func unsubscribes and closes the channel.
func (s *Stream[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &subscription[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(sub.ch)

		return sub.ch, func() {}
	}

	s.subs[sub] = struct{}{}

	var once sync.Once

	return sub.ch, func() {
		once.Do(func() {
			close(sub.done)

			s.mu.Lock()
			defer s.mu.Unlock()

			if _, ok := s.subs[sub]; ok {
				delete(s.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers v to every subscriber. It returns ctx.Err() if the context ends first;
// subscribers served before that keep the value.
func (s *Stream[T]) Publish(ctx context.Context, v T) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	for sub := range s.subs {
		select {
		case sub.ch <- v:
		case <-sub.done:
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Subscribers returns the number of active subscriptions.
func (s *Stream[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.subs)
}

// Close closes every subscriber channel; later publishes are dropped.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true

	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
}
