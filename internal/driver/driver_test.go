package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCompleteWaitRoundTrip(t *testing.T) {
	pool := NewPool[string](4)
	id, ok := pool.Register()
	require.True(t, ok)

	go func() {
		time.Sleep(5 * time.Millisecond)
		pool.Complete(id, "pong", nil)
	}()

	op := pool.Wait(id)
	payload, err := op.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", payload)
}

func TestCompleteBeforeWaitIsObserved(t *testing.T) {
	pool := NewPool[int](4)
	id, ok := pool.Register()
	require.True(t, ok)

	pool.Complete(id, 42, nil)

	op := pool.Wait(id)
	payload, err := op.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, payload)
}

func TestCancelDropsStaleCompletion(t *testing.T) {
	pool := NewPool[int](4)
	id, ok := pool.Register()
	require.True(t, ok)

	pool.Cancel(id)

	// A completion racing a cancel must not panic or resurrect the cell.
	pool.Complete(id, 99, nil)

	id2, ok := pool.Register()
	require.True(t, ok)
	assert.Equal(t, id.Idx, id2.Idx)
	assert.NotEqual(t, id.Generation, id2.Generation)
}

func TestWaitContextCancellation(t *testing.T) {
	pool := NewPool[int](4)
	id, ok := pool.Register()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := pool.Wait(id).Wait(ctx)
	require.Error(t, err)
}

func TestPoolExhaustion(t *testing.T) {
	pool := NewPool[int](1)
	_, ok := pool.Register()
	require.True(t, ok)

	_, ok = pool.Register()
	assert.False(t, ok)
}
