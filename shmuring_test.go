package shmuring

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientServerEchoRoundTrip(t *testing.T) {
	ctx := context.Background()
	region, err := OpenLoopbackRegion(ctx, "echo-round-trip", 1<<20)
	require.NoError(t, err)
	defer region.Close()

	srv := NewServer(region, EchoHandler, 4, 0)
	defer srv.Close()

	cli := NewClient(region, 0)
	defer cli.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := cli.Submit(reqCtx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), resp)
}

func TestClientServerConcurrentSubmits(t *testing.T) {
	ctx := context.Background()
	region, err := OpenLoopbackRegion(ctx, "echo-concurrent", 4<<20)
	require.NoError(t, err)
	defer region.Close()

	srv := NewServer(region, EchoHandler, 8, 0)
	defer srv.Close()

	cli := NewClient(region, 0)
	defer cli.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	got := make([][]byte, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			payload := []byte(fmt.Sprintf("req-%d", i))
			resp, err := cli.Submit(reqCtx, payload)
			got[i], errs[i] = resp, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte(fmt.Sprintf("req-%d", i)), got[i])
	}
}

func TestClientServerStoreHandler(t *testing.T) {
	ctx := context.Background()
	region, err := OpenLoopbackRegion(ctx, "echo-store", 1<<20)
	require.NoError(t, err)
	defer region.Close()

	store := NewMockStore(0)
	srv := NewServer(region, StoreHandler(store), 4, 0)
	defer srv.Close()

	cli := NewClient(region, 0)
	defer cli.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := cli.Submit(reqCtx, []byte("abcdef"))
	require.NoError(t, err)
	require.Len(t, resp, 1)
	assert.Equal(t, byte(6), resp[0])
	assert.GreaterOrEqual(t, store.Len(), 6)
}

func TestClientSubmitContextCancelBeforeResponse(t *testing.T) {
	ctx := context.Background()
	region, err := OpenLoopbackRegion(ctx, "echo-cancel", 1<<20)
	require.NoError(t, err)
	defer region.Close()

	// No server running: nothing ever drains the submission ring, so
	// Submit must return once its context expires rather than hang.
	cli := NewClient(region, 0)
	defer cli.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err = cli.Submit(reqCtx, []byte("no one is listening"))
	assert.Error(t, err)
}

func TestRegionMetricsReflectSubmits(t *testing.T) {
	ctx := context.Background()
	region, err := OpenLoopbackRegion(ctx, "echo-metrics", 1<<20)
	require.NoError(t, err)
	defer region.Close()

	srv := NewServer(region, EchoHandler, 2, 0)
	defer srv.Close()

	cli := NewClient(region, 0)
	defer cli.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = cli.Submit(reqCtx, []byte("ping"))
	require.NoError(t, err)

	snap := region.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.SubmitOps)
	assert.Equal(t, uint64(1), snap.CompletedOps)
	assert.Equal(t, uint64(0), snap.FailedOps)
}
