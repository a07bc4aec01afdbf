// ABOUTME: Turn-scoped working copy of a conversation record with finalize-once commit
// ABOUTME: Update replaces the staged record; Done triggers the external save hook exactly once

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrFinalized is returned when Done is called on an already-finalized state.
var ErrFinalized = errors.New("conversation state already finalized")

// titleLimit bounds the auto-derived chat title.
const titleLimit = 100

// SaveHook persists a finalized record. It runs at most once per turn and is
// the only durable side effect of a turn.
type SaveHook func(ctx context.Context, rec Record) error

// State holds the staged, in-memory working copy of one conversation for the
// duration of a turn. The orchestrator is the sole writer; Update fully
// replaces the staged record and Done finalizes it, invoking the save hook.
//
// A state constructed without a user ID is unauthenticated: Done becomes a
// silent no-op so that "no session" reads as "no persisted state", not as a
// failure.
type State struct {
	mu        sync.Mutex
	rec       Record
	userID    string
	hook      SaveHook
	finalized bool
	logger    *slog.Logger
}

// NewState creates a turn-scoped state around a record. Pass nil logger for
// the default.
func NewState(rec Record, userID string, hook SaveHook, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		rec:    rec.Clone(),
		userID: userID,
		hook:   hook,
		logger: logger.With("component", "chatstate", "chat_id", rec.ID),
	}
}

// Get returns a copy of the staged record.
func (s *State) Get() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}

// UserID returns the session user this state is bound to, empty when
// unauthenticated.
func (s *State) UserID() string {
	return s.userID
}

// Update replaces the staged record. Each call fully supersedes the prior
// value; there is no merging.
func (s *State) Update(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		s.logger.Warn("update after finalize ignored")
		return
	}
	s.rec = rec.Clone()
}

// Done finalizes the turn's record and triggers the save hook exactly once.
// The record is completed before saving: title from the first message, chat
// path, creation time, and owning user. A second call returns ErrFinalized.
// An unauthenticated state finalizes without persisting.
func (s *State) Done(ctx context.Context, rec Record) error {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return ErrFinalized
	}
	s.finalized = true
	s.rec = rec.Clone()
	final := s.completeLocked()
	s.mu.Unlock()

	if s.userID == "" {
		s.logger.Debug("no session, skipping persistence")
		return nil
	}
	if s.hook == nil {
		return nil
	}
	if err := s.hook(ctx, final); err != nil {
		return fmt.Errorf("saving chat: %w", err)
	}
	s.logger.Debug("chat persisted", "messages", len(final.Messages))
	return nil
}

// completeLocked fills the derived record fields; caller must hold the lock.
func (s *State) completeLocked() Record {
	rec := s.rec.Clone()
	rec.UserID = s.userID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Path == "" {
		rec.Path = "/chat/" + rec.ID
	}
	if rec.Title == "" && len(rec.Messages) > 0 {
		title := rec.Messages[0].Content
		if len(title) > titleLimit {
			title = title[:titleLimit]
		}
		rec.Title = title
	}
	return rec
}
