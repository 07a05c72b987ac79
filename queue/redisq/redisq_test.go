package redisq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "test"), mr
}

func TestQueue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, queue.Message{TaskID: id, Class: core.TaskEmbed}))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"a", "b", "c"} {
		d, err := q.Consume(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, d.Message().TaskID)
		assert.Equal(t, core.TaskEmbed, d.Message().Class)
		require.NoError(t, d.Ack(ctx))
	}
}

func TestQueue_UnackedMessagesAreReclaimed(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, queue.Message{TaskID: "a", Class: core.TaskIngest}))
	require.NoError(t, q.Publish(ctx, queue.Message{TaskID: "b", Class: core.TaskIngest}))

	acked, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, acked.Ack(ctx))

	_, err = q.Consume(ctx) // never acked: worker crashed
	require.NoError(t, err)

	processing, err := mr.List("test:processing")
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	moved, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.False(t, mr.Exists("test:processing"))

	d, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", d.Message().TaskID)
}

func TestQueue_ConsumeHonorsContext(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Consume(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestQueue_Closed(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.Close())

	err := q.Publish(context.Background(), queue.Message{TaskID: "a"})
	assert.ErrorIs(t, err, queue.ErrClosed)
	_, err = q.Consume(context.Background())
	assert.ErrorIs(t, err, queue.ErrClosed)
}
