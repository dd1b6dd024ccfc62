package refstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore, err := NewSQLStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    sqlStore,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := s.Create(ctx, "complaint", "open", map[string]any{
				"summary": "printer on fire",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, created.Ref)
			assert.Contains(t, created.Ref, "COMPLAINT-")

			got, err := s.Get(ctx, created.Ref)
			require.NoError(t, err)
			assert.Equal(t, "open", got.Status)
			assert.Equal(t, "printer on fire", got.Fields["summary"])
		})
	}
}

func TestStore_GetUnknownRef(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "NOPE-123")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_UpdateMergesFields(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := s.Create(ctx, "access_request", "pending", map[string]any{
				"system": "jira",
			})
			require.NoError(t, err)

			updated, err := s.Update(ctx, created.Ref, "approved", map[string]any{
				"approver": "manager",
			})
			require.NoError(t, err)
			assert.Equal(t, "approved", updated.Status)
			assert.Equal(t, "jira", updated.Fields["system"])
			assert.Equal(t, "manager", updated.Fields["approver"])
		})
	}
}

func TestStore_ListByKind(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Create(ctx, "complaint", "open", nil)
			require.NoError(t, err)
			_, err = s.Create(ctx, "complaint", "open", nil)
			require.NoError(t, err)
			_, err = s.Create(ctx, "access_request", "pending", nil)
			require.NoError(t, err)

			complaints, err := s.ListByKind(ctx, "complaint")
			require.NoError(t, err)
			assert.Len(t, complaints, 2)

			requests, err := s.ListByKind(ctx, "access_request")
			require.NoError(t, err)
			assert.Len(t, requests, 1)
		})
	}
}
