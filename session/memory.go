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
	"sync"
	"time"
)

// MemoryHistoryStore is an in-memory HistoryStore for tests and
// ephemeral deployments.
type MemoryHistoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Turn
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{sessions: make(map[string][]Turn)}
}

// AddMessage implements HistoryStore.
func (s *MemoryHistoryStore) AddMessage(ctx context.Context, sessionID, role, content string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := Turn{
		SessionID:     sessionID,
		SequenceIndex: len(s.sessions[sessionID]),
		Role:          role,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
	s.sessions[sessionID] = append(s.sessions[sessionID], turn)
	return &turn, nil
}

// FetchRecentMessages implements HistoryStore.
func (s *MemoryHistoryStore) FetchRecentMessages(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// DeleteSession implements HistoryStore.
func (s *MemoryHistoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Close implements HistoryStore.
func (s *MemoryHistoryStore) Close() error {
	return nil
}

var _ HistoryStore = (*MemoryHistoryStore)(nil)
