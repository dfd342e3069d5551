package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupQueue_PushThenTake(t *testing.T) {
	q := NewCleanupQueue()
	q.Push("/tmp/a.dcm")
	q.Push("/tmp/b.dcm")

	ctx := context.Background()
	first, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.dcm", first)

	second, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b.dcm", second)
}

func TestCleanupQueue_TakeBlocksUntilPush(t *testing.T) {
	q := NewCleanupQueue()

	done := make(chan string, 1)
	go func() {
		v, err := q.Take(context.Background())
		if err == nil {
			done <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("/tmp/late.dcm")

	select {
	case v := <-done:
		assert.Equal(t, "/tmp/late.dcm", v)
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock after Push")
	}
}

func TestCleanupQueue_TakeRespectsCancellation(t *testing.T) {
	q := NewCleanupQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanupQueue_Len(t *testing.T) {
	q := NewCleanupQueue()
	assert.Equal(t, 0, q.Len())
	q.Push("/tmp/a.dcm")
	q.Push("/tmp/b.dcm")
	assert.Equal(t, 2, q.Len())
}
