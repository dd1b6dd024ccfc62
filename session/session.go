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

// Package session persists conversation history, one immutable turn per
// row with a per-session monotonic sequence index.
package session

import (
	"context"
	"time"
)

// Turn is one persisted conversation message. Immutable once written.
type Turn struct {
	SessionID     string    `json:"session_id"`
	SequenceIndex int       `json:"sequence_index"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryStore records and replays conversation turns. Implementations
// must assign sequence indexes atomically per session: a session with N
// prior turns gets index N, and concurrent writers never collide.
type HistoryStore interface {
	// AddMessage appends a turn and returns it with its assigned
	// sequence index.
	AddMessage(ctx context.Context, sessionID, role, content string) (*Turn, error)

	// FetchRecentMessages returns up to limit most recent turns in
	// chronological order. limit <= 0 returns all turns.
	FetchRecentMessages(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// DeleteSession removes all turns for a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases resources held by the store.
	Close() error
}
