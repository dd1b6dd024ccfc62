// Copyright 2026 Deskmate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLHistoryStore implements HistoryStore on a SQL database. Sequence
// assignment relies on database-level locking, not Go mutexes.
type SQLHistoryStore struct {
	db *sql.DB
}

const createTurnsSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    session_id VARCHAR(255) NOT NULL,
    sequence_index INTEGER NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, sequence_index)
)`

const createTurnsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, sequence_index)`

// NewSQLHistoryStore opens (or creates) a sqlite-backed history store at
// the given path. Use ":memory:" for an ephemeral store.
func NewSQLHistoryStore(path string) (*SQLHistoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent sequence assignment.
	db.SetMaxOpenConns(1)

	s := &SQLHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLHistoryStoreFromDB wraps an existing database connection.
func NewSQLHistoryStoreFromDB(db *sql.DB) (*SQLHistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQLHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLHistoryStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createTurnsSchemaSQL, createTurnsIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// AddMessage implements HistoryStore. The sequence index is assigned
// inside a transaction so concurrent writers for the same session never
// collide.
func (s *SQLHistoryStore) AddMessage(ctx context.Context, sessionID, role, content string) (*Turn, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	query := `SELECT COALESCE(MAX(sequence_index), -1) + 1 FROM conversation_turns WHERE session_id = ?`
	if err := tx.QueryRowContext(ctx, query, sessionID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to assign sequence index: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, sequence_index, role, content, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, role, content, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Turn{
		SessionID:     sessionID,
		SequenceIndex: seq,
		Role:          role,
		Content:       content,
		CreatedAt:     now,
	}, nil
}

// FetchRecentMessages implements HistoryStore.
func (s *SQLHistoryStore) FetchRecentMessages(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	cols := `session_id, sequence_index, role, content, created_at`

	var query string
	var args []any
	if limit > 0 {
		// Subquery keeps the N most recent turns in chronological order.
		query = `SELECT ` + cols + ` FROM (
            SELECT ` + cols + ` FROM conversation_turns
            WHERE session_id = ?
            ORDER BY sequence_index DESC LIMIT ?
        ) sub ORDER BY sequence_index ASC`
		args = []any{sessionID, limit}
	} else {
		query = `SELECT ` + cols + ` FROM conversation_turns
            WHERE session_id = ? ORDER BY sequence_index ASC`
		args = []any{sessionID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.SessionID, &t.SequenceIndex, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// DeleteSession implements HistoryStore.
func (s *SQLHistoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLHistoryStore) Close() error {
	return s.db.Close()
}

var _ HistoryStore = (*SQLHistoryStore)(nil)
