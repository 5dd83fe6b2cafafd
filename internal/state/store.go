// Package state persists dialog stacks and per-user skill context in SQLite.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists per-conversation dialog state and per-user context values.
// It implements domain.SkillContextProvider.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dialog_state (
		conversation_id TEXT PRIMARY KEY,
		state           TEXT NOT NULL,
		updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS skill_context (
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadDialogState returns the raw dialog state for a conversation, or nil
// when the conversation has none yet.
func (s *Store) LoadDialogState(ctx context.Context, conversationID string) (json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM dialog_state WHERE conversation_id = ?`, conversationID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dialog state for %q: %w", conversationID, err)
	}
	return json.RawMessage(raw), nil
}

// SaveDialogState upserts the dialog state for a conversation.
func (s *Store) SaveDialogState(ctx context.Context, conversationID string, state json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dialog_state (conversation_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		conversationID, string(state), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save dialog state for %q: %w", conversationID, err)
	}
	return nil
}

// DeleteDialogState removes a conversation's dialog state.
func (s *Store) DeleteDialogState(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dialog_state WHERE conversation_id = ?`, conversationID,
	)
	return err
}

// SetContextValue stores one named value for a user.
func (s *Store) SetContextValue(ctx context.Context, userID, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode context value %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO skill_context (user_id, name, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, name, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save context value %q for user %q: %w", name, userID, err)
	}
	return nil
}

// SkillContextSnapshot returns all stored context values for a user, keyed
// by name. The snapshot feeds slot matching at skill invocation time.
func (s *Store) SkillContextSnapshot(ctx context.Context, userID string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM skill_context WHERE user_id = ?`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load context for user %q: %w", userID, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// DeleteContextValue removes one named value for a user.
func (s *Store) DeleteContextValue(ctx context.Context, userID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM skill_context WHERE user_id = ? AND name = ?`, userID, name,
	)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
