package shmuring

import (
	"context"
	"sync"

	"github.com/shmuring/shmuring/internal/shmbackend"
)

// OpenLoopbackRegion opens a Region backed by an anonymous mapping
// (internal/shmbackend.AnonHandle): no /dev/shm path, no root, no
// second process to attach from. It is for tests and single-process
// examples that want the real header/arena/ring machinery without a
// real shared object.
func OpenLoopbackRegion(ctx context.Context, name string, size uint32) (*Region, error) {
	params := DefaultRegionParams(&shmbackend.AnonHandle{Name: name})
	if size > 0 {
		params.Size = size
	}
	return OpenRegion(ctx, params)
}

// shardSize matches the teacher's RAM-disk backend's sharding grain:
// fine enough for concurrent tests to produce real contention, coarse
// enough to keep the lock count sane for the payloads this module moves.
const shardSize = 64 * 1024

// MockStore is a sharded-lock in-memory byte store for Handler
// implementations under test: it gives concurrent requests something
// to genuinely contend over, the same way the teacher's RAM-disk
// backend sharded 64KiB regions instead of using one coarse mutex.
type MockStore struct {
	mu     sync.RWMutex // guards data/shards growing together
	data   []byte
	shards []sync.RWMutex
}

// NewMockStore creates an empty store of the given size.
func NewMockStore(size int) *MockStore {
	numShards := (size + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &MockStore{
		data:   make([]byte, size),
		shards: make([]sync.RWMutex, numShards),
	}
}

func (s *MockStore) shardRange(off, length int) (start, end int) {
	start = off / shardSize
	end = (off + length - 1) / shardSize
	if end >= len(s.shards) {
		end = len(s.shards) - 1
	}
	return start, end
}

// ReadAt copies len(p) bytes starting at off into p, short-reading at
// the end of the store instead of erroring.
func (s *MockStore) ReadAt(p []byte, off int) int {
	s.mu.RLock()
	size := len(s.data)
	s.mu.RUnlock()
	if off >= size {
		return 0
	}
	if available := size - off; len(p) > available {
		p = p[:available]
	}

	start, end := s.shardRange(off, len(p))
	for i := start; i <= end; i++ {
		s.shards[i].RLock()
	}
	n := copy(p, s.data[off:off+len(p)])
	for i := start; i <= end; i++ {
		s.shards[i].RUnlock()
	}
	return n
}

// WriteAt writes p at off, growing the store under its coarse lock
// first if the write runs past the current end.
func (s *MockStore) WriteAt(p []byte, off int) int {
	s.growTo(off + len(p))

	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := s.shardRange(off, len(p))
	for i := start; i <= end; i++ {
		s.shards[i].Lock()
	}
	n := copy(s.data[off:off+len(p)], p)
	for i := start; i <= end; i++ {
		s.shards[i].Unlock()
	}
	return n
}

func (s *MockStore) growTo(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size <= len(s.data) {
		return
	}
	grown := make([]byte, size)
	copy(grown, s.data)
	s.data = grown
	for len(s.shards)*shardSize < size {
		s.shards = append(s.shards, sync.RWMutex{})
	}
}

// Len returns the store's current size.
func (s *MockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// EchoHandler is the trivial Handler used by examples and tests: it
// returns a copy of the request unchanged.
func EchoHandler(req []byte) []byte {
	return append([]byte(nil), req...)
}

// StoreHandler builds a Handler that appends each request to store at
// a monotonically increasing offset and echoes back how many bytes it
// wrote, exercising MockStore's sharded locking under concurrent
// dispatch from the server's worker pool.
func StoreHandler(store *MockStore) Handler {
	var next int
	var mu sync.Mutex
	return func(req []byte) []byte {
		mu.Lock()
		off := next
		next += len(req)
		mu.Unlock()

		store.WriteAt(req, off)
		return []byte{byte(len(req))}
	}
}
