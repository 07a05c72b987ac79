package memory

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PublishConsume(t *testing.T) {
	q := New(4)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, queue.Message{TaskID: "a", Class: core.TaskIngest}))
	require.NoError(t, q.Publish(ctx, queue.Message{TaskID: "b", Class: core.TaskEmbed}))
	assert.Equal(t, 2, q.Len())

	d, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", d.Message().TaskID)
	assert.NoError(t, d.Ack(ctx))

	d, err = q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.TaskEmbed, d.Message().Class)
}

func TestQueue_ConsumeHonorsContext(t *testing.T) {
	q := New(1)
	defer q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Close(t *testing.T) {
	q := New(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Consume(context.Background())
		errCh <- err
	}()

	require.NoError(t, q.Close())
	assert.ErrorIs(t, <-errCh, queue.ErrClosed)
	assert.ErrorIs(t, q.Publish(context.Background(), queue.Message{TaskID: "x"}), queue.ErrClosed)
	assert.NoError(t, q.Close(), "close is idempotent")
}
