// ABOUTME: Tests for the Streamable latest-value observable
// ABOUTME: Covers append ordering, terminal semantics, late subscribers, concurrency

package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamable_ValueReflectsLatestAppend(t *testing.T) {
	s := New[string]()

	require.NoError(t, s.Append("one"))
	require.NoError(t, s.Append("two"))

	v, state := s.Value()
	assert.Equal(t, "two", v)
	assert.Equal(t, StatePending, state)
}

func TestStreamable_SubscriberSeesUpdatesInOrder(t *testing.T) {
	s := New[int]()
	ch, _ := s.Subscribe(t.Context())

	require.NoError(t, s.Append(1))
	require.NoError(t, s.Append(2))
	require.NoError(t, s.Done(3))

	var seen []int
	for update := range ch {
		seen = append(seen, update.Value)
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestStreamable_DoneWithFinalValue(t *testing.T) {
	s := New[string]()

	require.NoError(t, s.Append("partial"))
	require.NoError(t, s.Done("final"))

	v, state := s.Value()
	assert.Equal(t, "final", v)
	assert.Equal(t, StateDone, state)
	assert.NoError(t, s.Err())
}

func TestStreamable_DoneWithoutValueKeepsCurrent(t *testing.T) {
	s := New[string]()

	require.NoError(t, s.Append("kept"))
	require.NoError(t, s.Done())

	v, state := s.Value()
	assert.Equal(t, "kept", v)
	assert.Equal(t, StateDone, state)
}

func TestStreamable_AppendAfterDoneReturnsErrTerminated(t *testing.T) {
	s := New[string]()
	require.NoError(t, s.Done("final"))

	assert.ErrorIs(t, s.Append("late"), ErrTerminated)

	v, _ := s.Value()
	assert.Equal(t, "final", v, "terminal value must not be corrupted")
}

func TestStreamable_DoubleDoneDoesNotCorruptTerminalValue(t *testing.T) {
	s := New[string]()
	require.NoError(t, s.Done("first"))

	assert.ErrorIs(t, s.Done("second"), ErrTerminated)
	assert.ErrorIs(t, s.Fail(errors.New("boom")), ErrTerminated)

	v, state := s.Value()
	assert.Equal(t, "first", v)
	assert.Equal(t, StateDone, state)
	assert.NoError(t, s.Err())
}

func TestStreamable_FailRecordsError(t *testing.T) {
	s := New[string]()
	boom := errors.New("boom")

	require.NoError(t, s.Fail(boom))

	_, state := s.Value()
	assert.Equal(t, StateErrored, state)
	assert.ErrorIs(t, s.Err(), boom)
}

func TestStreamable_LateSubscriberSeesTerminalState(t *testing.T) {
	s := New[string]()
	require.NoError(t, s.Append("partial"))
	require.NoError(t, s.Done("final"))

	ch, _ := s.Subscribe(t.Context())

	select {
	case update, ok := <-ch:
		require.True(t, ok)
		assert.Equal(t, "final", update.Value)
		assert.Equal(t, StateDone, update.State)
	case <-time.After(time.Second):
		t.Fatal("late subscriber never received terminal update")
	}

	// Channel must be closed after the terminal update.
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after terminal update")
	}
}

func TestStreamable_TerminationClosesSubscriberChannels(t *testing.T) {
	s := New[string]()
	ch1, _ := s.Subscribe(t.Context())
	ch2, _ := s.Subscribe(t.Context())

	require.NoError(t, s.Done("bye"))

	for i, ch := range []<-chan Update[string]{ch1, ch2} {
		deadline := time.After(time.Second)
		closed := false
		for !closed {
			select {
			case _, ok := <-ch:
				if !ok {
					closed = true
				}
			case <-deadline:
				t.Fatalf("subscriber %d channel never closed", i)
			}
		}
	}
}

func TestStreamable_ContextCancellationRemovesSubscriber(t *testing.T) {
	s := New[string]()
	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := s.Subscribe(ctx)

	s.mu.RLock()
	_, exists := s.subs[subID]
	s.mu.RUnlock()
	require.True(t, exists)

	cancel()
	time.Sleep(50 * time.Millisecond)

	s.mu.RLock()
	_, exists = s.subs[subID]
	s.mu.RUnlock()
	assert.False(t, exists)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestStreamable_SlowSubscriberDoesNotBlockProducer(t *testing.T) {
	s := New[int]()
	_, _ = s.Subscribe(t.Context()) // never read

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 500 {
			_ = s.Append(i)
		}
		_ = s.Done()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on slow subscriber")
	}
}

func TestStreamable_ConcurrentObserversAndProducer(t *testing.T) {
	s := New[int]()
	var wg sync.WaitGroup

	for range 10 {
		wg.Go(func() {
			ch, _ := s.Subscribe(t.Context())
			for range ch {
			}
			_, state := s.Value()
			assert.Equal(t, StateDone, state)
		})
	}

	wg.Go(func() {
		for i := range 100 {
			_ = s.Append(i)
		}
		_ = s.Done(100)
	})

	wg.Wait()
}

func TestStreamable_UnsubscribeIsIdempotent(t *testing.T) {
	s := New[string]()
	_, subID := s.Subscribe(t.Context())

	s.Unsubscribe(subID)
	s.Unsubscribe(subID) // second call must not panic

	require.NoError(t, s.Append("still works"))
}
