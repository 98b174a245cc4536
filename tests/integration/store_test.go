//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-session-service/internal/domain"
	"github.com/helixir/research-session-service/internal/kvstore"
)

func newPostgresStore(t *testing.T) *kvstore.PostgresStore {
	t.Helper()
	cleanTable(t, "session_state")
	return kvstore.NewPostgresStore(testPool, zerolog.Nop())
}

func TestPostgresStore_SetGet(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session:it-1:conversationId", "conv-abc"))

	value, err := store.Get(ctx, "session:it-1:conversationId")
	require.NoError(t, err)
	assert.Equal(t, "conv-abc", value)

	// Upsert overwrites.
	require.NoError(t, store.Set(ctx, "session:it-1:conversationId", "conv-def"))
	value, err = store.Get(ctx, "session:it-1:conversationId")
	require.NoError(t, err)
	assert.Equal(t, "conv-def", value)
}

func TestPostgresStore_GetMissingKey(t *testing.T) {
	store := newPostgresStore(t)

	_, err := store.Get(context.Background(), "session:it-missing:conversationId")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresStore_Delete(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session:it-2:darkMode", "true"))
	require.NoError(t, store.Delete(ctx, "session:it-2:darkMode"))

	_, err := store.Get(ctx, "session:it-2:darkMode")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, store.Delete(ctx, "session:it-2:darkMode"))
}

func TestPostgresStore_SetMulti(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	kv := map[string]string{
		"session:it-3:conversationId":      "conv-1",
		"session:it-3:conversationHistory": `[]`,
		"session:it-3:selectedSources":     `[]`,
	}
	require.NoError(t, store.SetMulti(ctx, kv))

	for key, want := range kv {
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got, "key %s", key)
	}

	// Empty batch is a no-op.
	assert.NoError(t, store.SetMulti(ctx, nil))
}

func TestPostgresStore_UpdatedAtAdvances(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session:it-4:tier", "free"))

	var first time.Time
	require.NoError(t, testPool.QueryRow(ctx,
		"SELECT updated_at FROM session_state WHERE session_key = $1",
		"session:it-4:tier").Scan(&first))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Set(ctx, "session:it-4:tier", "premium"))

	var second time.Time
	require.NoError(t, testPool.QueryRow(ctx,
		"SELECT updated_at FROM session_state WHERE session_key = $1",
		"session:it-4:tier").Scan(&second))

	assert.True(t, second.After(first), "updated_at should advance on rewrite")
}

func TestPostgresStore_Ping(t *testing.T) {
	store := newPostgresStore(t)
	assert.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, "postgres", store.Name())
}
