package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
)

func msgAt(ts uint64) msgtype.Message {
	return msgtype.Message{Type: msgtype.ByteArray, Timestamp: ts}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)
	c, err := q.Consumer()
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.Push(context.Background(), msgAt(i)))
	}
	assert.Equal(t, 3, c.Len())

	for i := uint64(1); i <= 3; i++ {
		m, ok := c.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, m.Timestamp)
	}
	_, ok := c.TryPop()
	assert.False(t, ok)
}

func TestQueue_BoundedPushBlocksUntilPop(t *testing.T) {
	q := NewQueue(1)
	c, err := q.Consumer()
	require.NoError(t, err)

	require.NoError(t, q.Push(context.Background(), msgAt(1)))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(context.Background(), msgAt(2))
	}()

	select {
	case <-pushed:
		t.Fatal("push on a full queue should block")
	case <-time.After(50 * time.Millisecond):
	}

	m, ok := c.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Timestamp)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pop")
	}

	m, ok = c.PopTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(2), m.Timestamp)
}

func TestQueue_PushHonorsContext(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Push(context.Background(), msgAt(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, msgAt(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_PopTimeout(t *testing.T) {
	q := NewQueue(4)
	c, err := q.Consumer()
	require.NoError(t, err)

	start := time.Now()
	_, ok := c.PopTimeout(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	_, ok = c.PopTimeout(0)
	assert.False(t, ok)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push(context.Background(), msgAt(9))
	}()
	m, ok := c.PopTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(9), m.Timestamp)
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(0)
	c, err := q.Consumer()
	require.NoError(t, err)
	require.NoError(t, q.Push(context.Background(), msgAt(1)))

	q.Close()
	q.Close()

	err = q.Push(context.Background(), msgAt(2))
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))

	m, err := c.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Timestamp)

	_, err = c.Pop(context.Background())
	assert.ErrorAs(t, err, &QueueClosedError{})
}

func TestQueue_SingleConsumer(t *testing.T) {
	q := NewQueue(0)
	c, err := q.Consumer()
	require.NoError(t, err)

	_, err = q.Consumer()
	assert.ErrorAs(t, err, &QueueOwnedError{})

	c.Release()
	c.Release()
	_, err = q.Consumer()
	assert.NoError(t, err)
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(context.Background(), msgAt(1)))
	require.NoError(t, q.Push(context.Background(), msgAt(2)))
	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, 0, q.Len())
}
