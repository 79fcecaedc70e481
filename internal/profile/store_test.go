package profile

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("EXCHANGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}
	store, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func TestPayload_CategoryAndFallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := "p-" + uuid.NewString()

	require.NoError(t, store.Put(ctx, profileID, "u1", "", json.RawMessage(`{"name":"Ada"}`)))
	require.NoError(t, store.Put(ctx, profileID, "u1", "work", json.RawMessage(`{"name":"Ada","email":"ada@work"}`)))

	got, err := store.Payload(ctx, "u1", profileID, "work")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada","email":"ada@work"}`, string(got))

	got, err = store.Payload(ctx, "u1", profileID, "social")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada"}`, string(got))
}

func TestPayload_Missing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Payload(context.Background(), "u1", "p-"+uuid.NewString(), "work")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPayload_OnlyOwnersProfile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := "p-" + uuid.NewString()

	require.NoError(t, store.Put(ctx, profileID, "owner", "work", json.RawMessage(`{"name":"Owner"}`)))

	got, err := store.Payload(ctx, "someone-else", profileID, "work")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Payload(ctx, "owner", profileID, "work")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Owner"}`, string(got))
}

func TestPut_Upserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := "p-" + uuid.NewString()

	require.NoError(t, store.Put(ctx, profileID, "u1", "work", json.RawMessage(`{"v":1}`)))
	require.NoError(t, store.Put(ctx, profileID, "u1", "work", json.RawMessage(`{"v":2}`)))

	got, err := store.Payload(ctx, "u1", profileID, "work")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestPut_RejectsInvalidJSON(t *testing.T) {
	// Validation happens before any query, so no database is needed.
	store := NewStore(nil)
	err := store.Put(context.Background(), "p", "u", "work", json.RawMessage(`{`))
	assert.Error(t, err)
}
