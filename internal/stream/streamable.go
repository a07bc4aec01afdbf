// ABOUTME: Single-producer, multi-observer incremental value primitive
// ABOUTME: Observers see the latest value plus a pending/done/errored status, with fan-out notification

package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ErrTerminated is returned by producer operations after Done or Fail.
var ErrTerminated = errors.New("stream already terminated")

// State describes where a streamable is in its lifecycle.
type State int

const (
	StatePending State = iota
	StateDone
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Update is delivered to subscribers on every transition.
type Update[T any] struct {
	Value T
	State State
	Err   error
}

// Streamable is a shared mutable cell with exactly one producer and any number
// of observers. The producer appends values and eventually terminates the
// stream with Done or Fail; observers read the current value at any time or
// subscribe for transitions. A subscriber that attaches after termination
// immediately receives the terminal update, so there is no missed-update race.
type Streamable[T any] struct {
	mu    sync.RWMutex
	value T
	state State
	err   error
	subs  map[string]chan Update[T]
}

// New creates a pending streamable with the zero value of T.
func New[T any]() *Streamable[T] {
	return &Streamable[T]{
		subs: make(map[string]chan Update[T]),
	}
}

// Append replaces the current value and notifies observers.
// Returns ErrTerminated if the stream has already completed.
func (s *Streamable[T]) Append(v T) error {
	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.value = v
	update := Update[T]{Value: v, State: StatePending}
	targets := s.snapshotSubs()
	s.mu.Unlock()

	deliver(targets, update)
	return nil
}

// Done marks the stream complete. An optional final value replaces the
// current one before observers are notified. Calling Done or Fail on an
// already-terminated stream returns ErrTerminated and leaves the previously
// observed terminal value untouched.
func (s *Streamable[T]) Done(final ...T) error {
	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return ErrTerminated
	}
	if len(final) > 0 {
		s.value = final[len(final)-1]
	}
	s.state = StateDone
	update := Update[T]{Value: s.value, State: StateDone}
	targets := s.drainSubs()
	s.mu.Unlock()

	deliverAndClose(targets, update)
	return nil
}

// Fail marks the stream terminated with an error.
func (s *Streamable[T]) Fail(err error) error {
	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.state = StateErrored
	s.err = err
	update := Update[T]{Value: s.value, State: StateErrored, Err: err}
	targets := s.drainSubs()
	s.mu.Unlock()

	deliverAndClose(targets, update)
	return nil
}

// Value returns the current value and lifecycle state.
func (s *Streamable[T]) Value() (T, State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.state
}

// Err returns the terminal error, or nil if the stream is pending or done.
func (s *Streamable[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Subscribe registers an observer. The returned channel receives an Update on
// every transition and is closed when the stream terminates or the context is
// cancelled. If the stream is already terminal, the channel immediately
// yields the terminal update and closes.
func (s *Streamable[T]) Subscribe(ctx context.Context) (<-chan Update[T], string) {
	subID := uuid.New().String()
	ch := make(chan Update[T], subscriberBufferSize)

	s.mu.Lock()
	if s.state != StatePending {
		update := Update[T]{Value: s.value, State: s.state, Err: s.err}
		s.mu.Unlock()
		ch <- update
		close(ch)
		return ch, subID
	}
	s.subs[subID] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel. It is a no-op
// for unknown IDs and for subscriptions already closed by termination.
func (s *Streamable[T]) Unsubscribe(subID string) {
	s.mu.Lock()
	ch, ok := s.subs[subID]
	if ok {
		delete(s.subs, subID)
	}
	s.mu.Unlock()

	if ok {
		close(ch)
	}
}

// snapshotSubs copies subscriber channels; caller must hold the lock.
func (s *Streamable[T]) snapshotSubs() []chan Update[T] {
	targets := make([]chan Update[T], 0, len(s.subs))
	for _, ch := range s.subs {
		targets = append(targets, ch)
	}
	return targets
}

// drainSubs removes and returns all subscriber channels; caller must hold the lock.
func (s *Streamable[T]) drainSubs() []chan Update[T] {
	targets := s.snapshotSubs()
	s.subs = make(map[string]chan Update[T])
	return targets
}

// deliver sends an update to each target without blocking. A subscriber whose
// buffer is full misses the intermediate update; it can still read the
// current value directly.
func deliver[T any](targets []chan Update[T], update Update[T]) {
	for _, ch := range targets {
		select {
		case ch <- update:
		default:
		}
	}
}

// deliverAndClose sends the terminal update and closes each channel. The
// closed channel is the completion signal even for subscribers that missed
// the buffered terminal update.
func deliverAndClose[T any](targets []chan Update[T], update Update[T]) {
	for _, ch := range targets {
		select {
		case ch <- update:
		default:
		}
		close(ch)
	}
}
