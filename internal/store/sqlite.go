// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sibyl-sh/sibyl/internal/chat"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			path       TEXT NOT NULL,
			share_path TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chats_user_created
			ON chats(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS chat_messages (
			chat_id TEXT NOT NULL,
			seq     INTEGER NOT NULL,
			id      TEXT NOT NULL,
			role    TEXT NOT NULL,
			content TEXT NOT NULL,
			name    TEXT,

			PRIMARY KEY (chat_id, seq),
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveChat inserts or fully replaces a chat record and its messages.
func (s *SQLiteStore) SaveChat(ctx context.Context, rec chat.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var sharePath sql.NullString
	if rec.SharePath != "" {
		sharePath = sql.NullString{String: rec.SharePath, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, path, share_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			path       = excluded.path,
			share_path = COALESCE(excluded.share_path, chats.share_path)
	`,
		rec.ID,
		rec.UserID,
		rec.Title,
		rec.Path,
		sharePath,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting chat: %w", err)
	}

	// The history is replaced wholesale; the record is the source of truth.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	for i, m := range rec.Messages {
		var name sql.NullString
		if m.Name != "" {
			name = sql.NullString{String: m.Name, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (chat_id, seq, id, role, content, name)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.ID, i, m.ID, string(m.Role), m.Content, name)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chat: %w", err)
	}

	s.logger.Debug("saved chat", "id", rec.ID, "messages", len(rec.Messages))
	return nil
}

// GetChat retrieves a chat by ID with an ownership check.
func (s *SQLiteStore) GetChat(ctx context.Context, id, userID string) (chat.Record, error) {
	rec, err := s.getChat(ctx, id)
	if err != nil {
		return chat.Record{}, err
	}
	if rec.UserID != userID {
		return chat.Record{}, ErrUnauthorized
	}
	return rec, nil
}

// GetSharedChat retrieves a shared chat without ownership checks.
func (s *SQLiteStore) GetSharedChat(ctx context.Context, id string) (chat.Record, error) {
	rec, err := s.getChat(ctx, id)
	if err != nil {
		return chat.Record{}, err
	}
	if rec.SharePath == "" {
		return chat.Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *SQLiteStore) getChat(ctx context.Context, id string) (chat.Record, error) {
	var (
		rec          chat.Record
		sharePath    sql.NullString
		createdAtStr string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, path, share_path, created_at
		FROM chats
		WHERE id = ?
	`, id).Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Path, &sharePath, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Record{}, ErrNotFound
	}
	if err != nil {
		return chat.Record{}, fmt.Errorf("querying chat: %w", err)
	}

	rec.SharePath = sharePath.String
	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return chat.Record{}, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, name
		FROM chat_messages
		WHERE chat_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return chat.Record{}, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m    chat.Message
			role string
			name sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &name); err != nil {
			return chat.Record{}, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = chat.Role(role)
		m.Name = name.String
		rec.Messages = append(rec.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return chat.Record{}, fmt.Errorf("iterating messages: %w", err)
	}

	return rec, nil
}

// ListChats returns the user's chats, newest first, without message bodies.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string, limit int) ([]chat.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, path, share_path, created_at
		FROM chats
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	var out []chat.Record
	for rows.Next() {
		var (
			rec          chat.Record
			sharePath    sql.NullString
			createdAtStr string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Path, &sharePath, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		rec.SharePath = sharePath.String
		rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chats: %w", err)
	}

	return out, nil
}

// DeleteChat removes a single chat owned by the user.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id, userID string) error {
	rec, err := s.getChat(ctx, id)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrUnauthorized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Foreign-key cascades are per-connection in SQLite, so delete
	// messages explicitly.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted chat", "id", id)
	return nil
}

// ClearChats removes every chat owned by the user.
func (s *SQLiteStore) ClearChats(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE chat_id IN (SELECT id FROM chats WHERE user_id = ?)
	`, userID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clearing chats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing clear: %w", err)
	}

	n, _ := res.RowsAffected()
	s.logger.Debug("cleared chats", "user_id", userID, "count", n)
	return nil
}

// ShareChat marks a chat as shared and returns the updated record.
func (s *SQLiteStore) ShareChat(ctx context.Context, id, userID string) (chat.Record, error) {
	rec, err := s.getChat(ctx, id)
	if err != nil {
		return chat.Record{}, err
	}
	if rec.UserID != userID {
		return chat.Record{}, ErrUnauthorized
	}

	sharePath := "/share/" + id
	if _, err := s.db.ExecContext(ctx, `UPDATE chats SET share_path = ? WHERE id = ?`, sharePath, id); err != nil {
		return chat.Record{}, fmt.Errorf("sharing chat: %w", err)
	}

	rec.SharePath = sharePath
	return rec, nil
}
