package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	r := NewLocal[int](4)
	require.NoError(t, r.Push(1))
	require.NoError(t, r.Push(2))
	require.NoError(t, r.Push(3))

	v, err := r.Pop()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, _ = r.Pop()
	assert.Equal(t, 2, v)
	v, _ = r.Pop()
	assert.Equal(t, 3, v)
}

func TestTryPushFullReturnsFalse(t *testing.T) {
	r := NewLocal[int](2)
	ok, err := r.TryPush(1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.TryPush(2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryPush(3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryPopEmptyReturnsFalse(t *testing.T) {
	r := NewLocal[int](2)
	_, ok, err := r.TryPop()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForcePushEvictsOldest(t *testing.T) {
	r := NewLocal[int](2)
	_, _ = r.TryPush(1)
	_, _ = r.TryPush(2)

	evicted, ok, err := r.ForcePush(3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, evicted)

	v, _ := r.Pop()
	assert.Equal(t, 2, v)
	v, _ = r.Pop()
	assert.Equal(t, 3, v)
}

func TestCloseDrainsThenDisconnects(t *testing.T) {
	r := NewLocal[int](4)
	_ = r.Push(1)
	r.Close()

	v, err := r.Pop()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = r.Pop()
	assert.ErrorIs(t, err, ErrDisconnected)

	_, err = r.TryPush(2)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestPopAllDrainsAvailable(t *testing.T) {
	r := NewLocal[int](8)
	for i := 0; i < 5; i++ {
		_ = r.Push(i)
	}
	got := r.PopAll()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, r.Len())
}

type countingObserver struct{ fulls int }

func (c *countingObserver) ObserveFull() { c.fulls++ }

func TestObserverSeesFull(t *testing.T) {
	r := NewLocal[int](1)
	obs := &countingObserver{}
	r.SetObserver(obs)

	ok, err := r.TryPush(1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryPush(2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, obs.fulls)
}

func TestSharedBufferSecondAttacherSeesFirstsPushes(t *testing.T) {
	// Simulates two processes mapping the same backing object: two
	// independent *Ring[int] values bound to the same []byte, neither
	// aware of the other's Go-level existence, must observe one
	// shared queue rather than two private ones.
	buf := make([]byte, RequiredSize[int](4))

	producer := New[int](buf, 4)
	require.NoError(t, producer.Push(10))
	require.NoError(t, producer.Push(20))

	consumer := New[int](buf, 4)
	v, err := consumer.Pop()
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = producer.Pop()
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestAttachCapacityMismatchPanics(t *testing.T) {
	buf := make([]byte, RequiredSize[int](8))
	_ = New[int](buf, 4)

	assert.Panics(t, func() {
		New[int](buf, 8)
	})
}

func TestMPMCNoLoss(t *testing.T) {
	r := NewLocal[int](16)
	const producers = 4
	const perProducer = 500
	const want = producers * perProducer

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = r.Push(i)
			}
		}()
	}

	results := make(chan int, want)
	var consumers sync.WaitGroup
	const numConsumers = 4
	consumers.Add(numConsumers)
	for c := 0; c < numConsumers; c++ {
		go func() {
			defer consumers.Done()
			for {
				v, err := r.Pop()
				if err != nil {
					return
				}
				results <- v
			}
		}()
	}

	wg.Wait()

	total := 0
	for total < want {
		<-results
		total++
	}
	r.Close()
	consumers.Wait()

	assert.Equal(t, want, total)
}
