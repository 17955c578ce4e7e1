package shmuring

import (
	"runtime"

	"github.com/shmuring/shmuring/internal/executor"
	"github.com/shmuring/shmuring/internal/logging"
	"github.com/shmuring/shmuring/internal/pbox"
	"github.com/shmuring/shmuring/internal/queue"
	"github.com/shmuring/shmuring/internal/registry"
	"github.com/shmuring/shmuring/internal/token"
)

// Handler computes a response for a request payload. req is backed by a
// pooled scratch buffer reclaimed the instant Handler returns; callers
// that need to retain the bytes past the call must copy them.
type Handler func(req []byte) []byte

// maxPooledBufferSize is the largest request staged through
// internal/queue's buffer pool; anything bigger is copied into a
// one-off allocation instead of risking a slice-bounds panic against
// the pool's largest bucket.
const maxPooledBufferSize = 1024 * 1024

// inflight tracks a request this server has popped from the submission
// ring but not yet answered, so concurrent workers can be bounded and
// diagnosed without re-deriving state from the rings themselves.
type inflight struct {
	correlation token.Id
}

// Server is the receiver side of a Region: it drains the submission
// ring, dispatches each request to Handler on a fixed worker pool, and
// pushes the response token (tagged with the same correlation id) onto
// the completion ring.
type Server struct {
	region   *Region
	handler  Handler
	workers  *executor.Executor
	inflight *registry.Registry[inflight]
	stop     chan struct{}
	done     chan struct{}
}

// NewServer wires a Server to an already-open Region. numWorkers bounds
// concurrent Handler invocations; inflightCapacity bounds how many
// requests may be mid-flight at once (spec.md's registry slab, reused
// here to track accepted-but-unanswered requests rather than op-cache
// waiters).
func NewServer(region *Region, handler Handler, numWorkers int, inflightCapacity uint32) *Server {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if inflightCapacity == 0 {
		inflightCapacity = DefaultRegistryCapacity
	}
	s := &Server{
		region:   region,
		handler:  handler,
		workers:  executor.New(numWorkers),
		inflight: registry.New[inflight](inflightCapacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.acceptLoop()
	return s
}

// Close stops accepting new requests, waits for in-flight handlers to
// finish, and shuts down the worker pool. It does not close the
// underlying Region.
func (s *Server) Close() {
	close(s.stop)
	<-s.done
	s.workers.Close()
}

func (s *Server) acceptLoop() {
	defer close(s.done)
	logger := logging.Default()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		msg, ok, err := s.region.sq.TryPop()
		if err != nil {
			logger.Debug("server accept loop exiting", "reason", err)
			return
		}
		if !ok {
			runtime.Gosched()
			continue
		}

		id, _, err := s.inflight.Alloc(inflight{correlation: msg.Header})
		if err != nil {
			logger.Warn("inflight table full, dropping request", "error", err)
			continue
		}
		s.region.metrics.RecordQueueDepth(s.inflight.InUse())

		if submitErr := s.workers.Submit(func() { s.handle(id, msg) }); submitErr != nil {
			s.inflight.Free(id)
			logger.Warn("worker pool closed, accept loop exiting", "error", submitErr)
			return
		}
	}
}

func (s *Server) handle(id registry.Id, msg wireMsg) {
	defer s.inflight.Free(id)

	alloc := allocatorFor(s.region)
	reqBox := pbox.FromToken[byte](msg.Body, alloc)
	src := boxBytes(reqBox, alloc)

	var req []byte
	pooled := len(src) > 0 && len(src) <= maxPooledBufferSize
	if pooled {
		req = queue.GetBuffer(uint32(len(src)))
		copy(req, src)
	} else {
		req = append([]byte(nil), src...)
	}
	reqBox.Release()

	resp := s.handler(req)

	respBox, err := pbox.CopyFromSlice[byte](alloc, resp)
	// resp may alias req (an echo-style Handler returning its input
	// unchanged); only return req to the pool once resp has been fully
	// copied into the arena, so a concurrent borrower of the pool can
	// never race a Handler still reading through resp.
	if pooled {
		queue.PutBuffer(req)
	}
	if err != nil {
		logging.Default().Warn("failed to allocate response buffer", "error", err)
		return
	}
	tok, _ := pbox.IntoToken[byte](respBox)

	out := wireMsg{Header: msg.Header, Body: tok}
	if err := s.region.cq.Push(out); err != nil {
		respBox.Release()
		logging.Default().Warn("failed to push completion", "error", err)
	}
}
