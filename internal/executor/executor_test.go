package executor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	e := New(4)
	defer e.Close()

	var count int64
	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, e.Submit(func() { atomic.AddInt64(&count, 1) }))
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) == n
	}, time.Second, time.Millisecond)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	e := New(2)
	e.Close()

	err := e.Submit(func() {})
	assert.ErrorIs(t, err, ErrClosed)
}
