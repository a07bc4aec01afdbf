// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers chat CRUD, message ordering, ownership checks, and sharing

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sibyl-sh/sibyl/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func testRecord(id, userID string) chat.Record {
	return chat.Record{
		ID:        id,
		UserID:    userID,
		Title:     "What is a monad?",
		Path:      "/chat/" + id,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Messages: []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "What is a monad?"},
			{ID: "m2", Role: chat.RoleAssistant, Content: "A monad is..."},
		},
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSaveAndGetChat(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := testRecord("chat-123", "user-1")

	if err := store.SaveChat(ctx, rec); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-123", "user-1")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}

	if got.Title != rec.Title {
		t.Errorf("title = %q, want %q", got.Title, rec.Title)
	}
	if got.Path != rec.Path {
		t.Errorf("path = %q, want %q", got.Path, rec.Path)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].Content != "What is a monad?" {
		t.Errorf("first message = %q", got.Messages[0].Content)
	}
	if got.Messages[1].Role != chat.RoleAssistant {
		t.Errorf("second message role = %q", got.Messages[1].Role)
	}
}

func TestGetChat_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetChat(context.Background(), "nope", "user-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetChat_WrongUser(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveChat(ctx, testRecord("chat-1", "user-1")); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	_, err := store.GetChat(ctx, "chat-1", "user-2")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSaveChat_ReplacesMessages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := testRecord("chat-1", "user-1")
	if err := store.SaveChat(ctx, rec); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	rec.Messages = append(rec.Messages, chat.Message{ID: "m3", Role: chat.RoleUser, Content: "and functors?"})
	rec.Title = "updated title"
	if err := store.SaveChat(ctx, rec); err != nil {
		t.Fatalf("second SaveChat failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-1", "user-1")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Errorf("got %d messages, want 3", len(got.Messages))
	}
	if got.Title != "updated title" {
		t.Errorf("title = %q, want updated title", got.Title)
	}
}

func TestSaveChat_MessageOrdering(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := chat.Record{
		ID:        "chat-ord",
		UserID:    "user-1",
		Title:     "ordering",
		Path:      "/chat/chat-ord",
		CreatedAt: time.Now().UTC(),
	}
	for i := range 20 {
		rec.Messages = append(rec.Messages, chat.Message{
			ID:      fmt.Sprintf("m%d", i),
			Role:    chat.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
	}
	if err := store.SaveChat(ctx, rec); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-ord", "user-1")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	for i, m := range got.Messages {
		want := fmt.Sprintf("message %d", i)
		if m.Content != want {
			t.Fatalf("message %d = %q, want %q", i, m.Content, want)
		}
	}
}

func TestListChats_NewestFirstAndScoped(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i := range 3 {
		rec := testRecord(fmt.Sprintf("chat-%d", i), "user-1")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveChat(ctx, rec); err != nil {
			t.Fatalf("SaveChat failed: %v", err)
		}
	}
	if err := store.SaveChat(ctx, testRecord("other", "user-2")); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	chats, err := store.ListChats(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("got %d chats, want 3", len(chats))
	}
	if chats[0].ID != "chat-2" {
		t.Errorf("first chat = %s, want chat-2 (newest)", chats[0].ID)
	}
	for _, c := range chats {
		if len(c.Messages) != 0 {
			t.Errorf("list results should not include message bodies")
		}
	}
}

func TestDeleteChat(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveChat(ctx, testRecord("chat-1", "user-1")); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	if err := store.DeleteChat(ctx, "chat-1", "user-2"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("delete by wrong user: err = %v, want ErrUnauthorized", err)
	}

	if err := store.DeleteChat(ctx, "chat-1", "user-1"); err != nil {
		t.Fatalf("DeleteChat failed: %v", err)
	}

	if _, err := store.GetChat(ctx, "chat-1", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("chat still present after delete: err = %v", err)
	}
}

func TestClearChats(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := range 3 {
		if err := store.SaveChat(ctx, testRecord(fmt.Sprintf("chat-%d", i), "user-1")); err != nil {
			t.Fatalf("SaveChat failed: %v", err)
		}
	}
	if err := store.SaveChat(ctx, testRecord("keep", "user-2")); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	if err := store.ClearChats(ctx, "user-1"); err != nil {
		t.Fatalf("ClearChats failed: %v", err)
	}

	chats, err := store.ListChats(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("got %d chats after clear, want 0", len(chats))
	}

	// Other users are untouched.
	if _, err := store.GetChat(ctx, "keep", "user-2"); err != nil {
		t.Errorf("other user's chat gone: %v", err)
	}
}

func TestShareChat(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveChat(ctx, testRecord("chat-1", "user-1")); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}

	// Unshared chats are not visible via the share endpoint.
	if _, err := store.GetSharedChat(ctx, "chat-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unshared chat: err = %v, want ErrNotFound", err)
	}

	if _, err := store.ShareChat(ctx, "chat-1", "user-2"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("share by wrong user: err = %v, want ErrUnauthorized", err)
	}

	rec, err := store.ShareChat(ctx, "chat-1", "user-1")
	if err != nil {
		t.Fatalf("ShareChat failed: %v", err)
	}
	if rec.SharePath != "/share/chat-1" {
		t.Errorf("share path = %q, want /share/chat-1", rec.SharePath)
	}

	shared, err := store.GetSharedChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetSharedChat failed: %v", err)
	}
	if len(shared.Messages) != 2 {
		t.Errorf("shared chat has %d messages, want 2", len(shared.Messages))
	}
}

func TestShareChat_SurvivesResave(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := testRecord("chat-1", "user-1")
	if err := store.SaveChat(ctx, rec); err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}
	if _, err := store.ShareChat(ctx, "chat-1", "user-1"); err != nil {
		t.Fatalf("ShareChat failed: %v", err)
	}

	// A later save without the share path must not unshare the chat.
	if err := store.SaveChat(ctx, rec); err != nil {
		t.Fatalf("resave failed: %v", err)
	}
	if _, err := store.GetSharedChat(ctx, "chat-1"); err != nil {
		t.Errorf("chat unshared by resave: %v", err)
	}
}
