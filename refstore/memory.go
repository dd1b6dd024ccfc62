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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests. Safe for
// concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, kind, status string, fields map[string]any) (*Record, error) {
	now := time.Now().UTC()
	record := &Record{
		Ref:       newRef(kind),
		Kind:      kind,
		Status:    status,
		Fields:    cloneFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.records[record.Ref] = record
	s.mu.Unlock()

	return cloneRecord(record), nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ref string) (*Record, error) {
	s.mu.RLock()
	record, ok := s.records[ref]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return cloneRecord(record), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, ref, status string, fields map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	record.Status = status
	if record.Fields == nil {
		record.Fields = make(map[string]any)
	}
	for k, v := range fields {
		record.Fields[k] = v
	}
	record.UpdatedAt = time.Now().UTC()

	return cloneRecord(record), nil
}

// ListByKind implements Store.
func (s *MemoryStore) ListByKind(ctx context.Context, kind string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0)
	for _, record := range s.records {
		if record.Kind == kind {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// newRef generates a reference id like "COMPLAINT-1B9F0C2A".
func newRef(kind string) string {
	id := uuid.NewString()
	return fmt.Sprintf("%s-%s", refPrefix(kind), id[:8])
}

func refPrefix(kind string) string {
	prefix := make([]rune, 0, len(kind))
	for _, r := range kind {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			prefix = append(prefix, r)
		}
	}
	if len(prefix) == 0 {
		return "REF"
	}
	return string(prefix)
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Fields = cloneFields(r.Fields)
	return &c
}

var _ Store = (*MemoryStore)(nil)
