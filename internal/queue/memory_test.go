package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Payload string `json:"payload"`
}

func (i *testItem) Kind() string { return "test" }

func TestMemory_OrderAndDrain(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, q.Put(ctx, &testItem{Payload: p}))
	}
	assert.Equal(t, 3, q.Depth())

	items, err := q.Get(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].(*testItem).Payload)
	assert.Equal(t, "c", items[2].(*testItem).Payload)
	assert.Equal(t, 0, q.Depth())

	items, err = q.Get(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemory_GetRespectsMax(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, q.Put(ctx, &testItem{Payload: p}))
	}

	first, err := q.Get(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].(*testItem).Payload)

	second, err := q.Get(ctx, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "c", second[0].(*testItem).Payload)
}

func TestMemory_CloseRejectsPuts(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, &testItem{Payload: "a"}))
	require.NoError(t, q.Close())
	assert.Error(t, q.Put(ctx, &testItem{Payload: "b"}))

	// Pending items stay readable after close.
	items, err := q.Get(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
