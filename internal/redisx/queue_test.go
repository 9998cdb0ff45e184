package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T, key string) (*QueuePublisher, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewQueuePublisher(client, key), mr
}

func TestQueuePush(t *testing.T) {
	queue, mr := setupQueue(t, "ingested_exposure_data")
	ctx := context.Background()

	payload := map[string]interface{}{
		"version": 2,
		"payload": map[string]string{"province": "AG"},
	}
	require.NoError(t, queue.Push(ctx, payload))

	items, err := mr.List("ingested_exposure_data")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"version":2,"payload":{"province":"AG"}}`, items[0])
}

func TestQueuePushPreservesOrder(t *testing.T) {
	queue, mr := setupQueue(t, "q")
	ctx := context.Background()

	require.NoError(t, queue.Push(ctx, "first"))
	require.NoError(t, queue.Push(ctx, "second"))

	items, err := mr.List("q")
	require.NoError(t, err)
	require.Equal(t, []string{`"first"`, `"second"`}, items)
}

func TestQueuePushUnserializablePayload(t *testing.T) {
	queue, mr := setupQueue(t, "q")

	err := queue.Push(context.Background(), make(chan int))
	require.Error(t, err)

	// Nothing reaches Redis when marshalling fails.
	assert.False(t, mr.Exists("q"))
}

func TestQueueLen(t *testing.T) {
	queue, _ := setupQueue(t, "q")
	ctx := context.Background()

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, queue.Push(ctx, 1))
	require.NoError(t, queue.Push(ctx, 2))

	n, err = queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
