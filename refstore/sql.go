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

package refstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on a SQL database.
type SQLStore struct {
	db *sql.DB
}

const createRecordsSchemaSQL = `
CREATE TABLE IF NOT EXISTS reference_records (
    ref VARCHAR(255) PRIMARY KEY,
    kind VARCHAR(100) NOT NULL,
    status VARCHAR(100) NOT NULL,
    fields_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createRecordsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_records_kind ON reference_records(kind, created_at)`

// NewSQLStore opens (or creates) a sqlite-backed reference store at the
// given path. Use ":memory:" for an ephemeral store.
func NewSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromDB wraps an existing database connection.
func NewSQLStoreFromDB(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createRecordsSchemaSQL, createRecordsIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, kind, status string, fields map[string]any) (*Record, error) {
	now := time.Now().UTC()
	record := &Record{
		Ref:       newRef(kind),
		Kind:      kind,
		Status:    status,
		Fields:    cloneFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}

	fieldsJSON, err := json.Marshal(record.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reference_records (ref, kind, status, fields_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		record.Ref, record.Kind, record.Status, string(fieldsJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	return record, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, ref string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ref, kind, status, fields_json, created_at, updated_at
         FROM reference_records WHERE ref = ?`, ref)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", ref, err)
	}
	return record, nil
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, ref, status string, fields map[string]any) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT ref, kind, status, fields_json, created_at, updated_at
         FROM reference_records WHERE ref = ?`, ref)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", ref, err)
	}

	record.Status = status
	if record.Fields == nil {
		record.Fields = make(map[string]any)
	}
	for k, v := range fields {
		record.Fields[k] = v
	}
	record.UpdatedAt = time.Now().UTC()

	fieldsJSON, err := json.Marshal(record.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE reference_records SET status = ?, fields_json = ?, updated_at = ? WHERE ref = ?`,
		record.Status, string(fieldsJSON), record.UpdatedAt, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to update record %s: %w", ref, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return record, nil
}

// ListByKind implements Store.
func (s *SQLStore) ListByKind(ctx context.Context, kind string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ref, kind, status, fields_json, created_at, updated_at
         FROM reference_records WHERE kind = ? ORDER BY created_at DESC`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var fieldsJSON string
	if err := row.Scan(&record.Ref, &record.Kind, &record.Status, &fieldsJSON, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}
	if fieldsJSON != "" && fieldsJSON != "null" {
		if err := json.Unmarshal([]byte(fieldsJSON), &record.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}
	return &record, nil
}

var _ Store = (*SQLStore)(nil)
