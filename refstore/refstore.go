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

// Package refstore provides a keyed store for stateful side-effects
// created by tools, such as complaint tickets and access requests.
// Tools receive a Store at construction time instead of relying on
// process-lifetime globals.
package refstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a reference id does not exist.
var ErrNotFound = errors.New("record not found")

// Record is one tracked item, addressed by a generated reference id.
type Record struct {
	// Ref is the generated reference id handed back to the user.
	Ref string `json:"ref"`

	// Kind classifies the record, e.g. "complaint" or "access_request".
	Kind string `json:"kind"`

	// Status is the record's workflow status.
	Status string `json:"status"`

	// Fields holds the kind-specific payload.
	Fields map[string]any `json:"fields,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a durable keyed store for tool-created records.
type Store interface {
	// Create persists a new record under a generated reference id and
	// returns the stored record.
	Create(ctx context.Context, kind, status string, fields map[string]any) (*Record, error)

	// Get fetches a record by reference id. Returns ErrNotFound when the
	// id is unknown.
	Get(ctx context.Context, ref string) (*Record, error)

	// Update replaces a record's status and merges the given fields.
	// Returns the updated record, or ErrNotFound.
	Update(ctx context.Context, ref, status string, fields map[string]any) (*Record, error)

	// ListByKind returns all records of a kind, newest first.
	ListByKind(ctx context.Context, kind string) ([]*Record, error)

	// Close releases resources held by the store.
	Close() error
}
