package accesslog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "accesslog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestSQLiteStorage_WriteAndQuery(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	session, err := storage.OpenSession(ctx)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, session.Write(ctx, &Record{
		RequestID: "req-1",
		CreatedAt: now,
		Direction: DirectionRequest,
		Content:   "hi",
		RawBody:   `{"model":"gpt-4"}`,
		Model:     "gpt-4",
	}))
	require.NoError(t, session.Write(ctx, &Record{
		RequestID:           "req-1",
		CreatedAt:           now,
		Direction:           DirectionResponse,
		StatusCode:          200,
		Content:             "hello",
		Model:               "gpt-4-0613",
		PromptTokens:        9,
		CompletionTokens:    2,
		RequestTime:         1.5,
		RequestTimeUpstream: 1.2,
	}))
	require.NoError(t, session.Close())

	records, err := storage.RecordsByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, DirectionRequest, records[0].Direction)
	assert.Equal(t, "hi", records[0].Content)
	assert.Equal(t, DirectionResponse, records[1].Direction)
	assert.Equal(t, 200, records[1].StatusCode)
	assert.Equal(t, 9, records[1].PromptTokens)
	assert.Equal(t, 1.5, records[1].RequestTime)

	none, err := storage.RecordsByRequestID(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStorage_DeleteBefore(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	session, err := storage.OpenSession(ctx)
	require.NoError(t, err)
	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, session.Write(ctx, &Record{RequestID: "old", CreatedAt: old, Direction: DirectionRequest}))
	require.NoError(t, session.Write(ctx, &Record{RequestID: "new", CreatedAt: time.Now().UTC(), Direction: DirectionRequest}))
	require.NoError(t, session.Close())

	deleted, err := storage.DeleteBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := storage.RecordsByRequestID(ctx, "new")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
