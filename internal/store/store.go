// ABOUTME: Store interface and errors for chat persistence
// ABOUTME: Defines the operations the engine and gateway need from a chat database

package store

import (
	"context"
	"errors"

	"github.com/sibyl-sh/sibyl/internal/chat"
)

// ErrNotFound is returned when a requested chat does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when a chat exists but belongs to another user.
var ErrUnauthorized = errors.New("unauthorized")

// Store persists chat records and their message histories.
type Store interface {
	// SaveChat inserts or fully replaces a chat record, messages included.
	SaveChat(ctx context.Context, rec chat.Record) error

	// GetChat retrieves a chat by ID. Returns ErrNotFound if it doesn't
	// exist and ErrUnauthorized if it belongs to a different user.
	GetChat(ctx context.Context, id, userID string) (chat.Record, error)

	// ListChats returns the user's chats, newest first, without messages.
	ListChats(ctx context.Context, userID string, limit int) ([]chat.Record, error)

	// DeleteChat removes a single chat owned by the user.
	DeleteChat(ctx context.Context, id, userID string) error

	// ClearChats removes every chat owned by the user.
	ClearChats(ctx context.Context, userID string) error

	// ShareChat marks a chat as publicly shared and returns the updated
	// record with its share path set.
	ShareChat(ctx context.Context, id, userID string) (chat.Record, error)

	// GetSharedChat retrieves a chat by ID without ownership checks, but
	// only if it has been shared. Unshared chats return ErrNotFound.
	GetSharedChat(ctx context.Context, id string) (chat.Record, error)

	// Close releases the underlying database handle.
	Close() error
}
