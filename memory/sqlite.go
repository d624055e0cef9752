// Package memory stores conversation turns per session so a later request
// can replay them as history.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/types"
)

// Store is a SQLite-backed conversation history
type Store struct {
	db          *sql.DB
	maxMessages int
	mu          sync.Mutex
	logger      zerolog.Logger
}

// Open opens the history database. maxMessages bounds how many of the latest
// messages History returns; zero or less means all.
func Open(ctx context.Context, dsn string, maxMessages int, logger zerolog.Logger) (_ *Store, err error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w", err)
	}
	defer func() {
		if err != nil {
			if e := db.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
	}()

	if _, err = db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_messages_session
			ON conversation_messages (session_id, id);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation tables: %w", err)
	}

	return &Store{
		db:          db,
		maxMessages: maxMessages,
		logger:      logger.With().Str("component", "memory").Logger(),
	}, nil
}

// History returns the latest messages of a session in chronological order.
// A leading assistant message whose question was trimmed away is dropped.
func (s *Store) History(ctx context.Context, sessionID string) (_ []types.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	if s.maxMessages <= 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT message_data FROM conversation_messages
			WHERE session_id = ?
			ORDER BY id ASC`, sessionID)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT message_data FROM conversation_messages
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?`, sessionID, s.maxMessages)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying session messages: %w", err)
	}
	defer func() {
		if e := rows.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("error closing sql.Rows: %w", e))
		}
	}()

	var messages []types.Message
	for rows.Next() {
		var data string
		if err = rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sql rows scan error: %w", err)
		}
		var msg types.Message
		if e := json.Unmarshal([]byte(data), &msg); e != nil {
			s.logger.Warn().Err(e).Str("session_id", sessionID).Msg("skipping unreadable message")
			continue
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sql rows scan error: %w", err)
	}

	if s.maxMessages > 0 {
		slices.Reverse(messages)
	}
	for len(messages) > 0 && messages[0].Role != types.RoleUser {
		messages = messages[1:]
	}
	return messages, nil
}

// Append stores messages at the end of a session
func (s *Store) Append(ctx context.Context, sessionID string, messages ...types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("error JSON marshaling message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages (session_id, message_data) VALUES (?, ?)`,
			sessionID, string(data)); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

// Clear removes every message of a session
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE session_id = ?`, sessionID)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
