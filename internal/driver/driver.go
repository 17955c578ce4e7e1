// Package driver implements the op-cache of spec.md §4.7: a pool of
// cells binding a ring-carried correlation Id to an async result. Rust's
// Waker/Future poll loop has no direct Go equivalent, so this package
// keeps the exact Free/Waker/Completed/Updating state machine and CAS
// transitions the spec describes, but represents "a waker is
// installed" as "a done channel has been created" and "wake" as
// "close(done)" — Op[T].Wait(ctx) blocks on that channel instead of
// being polled. This substitution is recorded as an explicit decision
// in the project's grounding ledger rather than left as a silent
// divergence from spec.md's poll-based description.
package driver

import (
	"context"
	"sync/atomic"

	"github.com/shmuring/shmuring/internal/logging"
)

// cellState mirrors spec.md §4.7's op-cache cell state machine.
type cellState uint32

const (
	stateFree cellState = iota
	stateWaker
	stateCompleted
	stateUpdating
)

// Id correlates a submission with its eventual completion.
type Id struct {
	Idx        uint32
	Generation uint32
}

type cell[T any] struct {
	state      uint32
	generation uint32
	done       chan struct{}
	payload    T
	err        error
}

// Pool is a fixed-capacity, refcounted set of op-cache cells shared by
// a driver's submitter and completer sides. freeBook is the
// Treiber-stack link array, kept parallel to cells so cell[T] itself
// carries no non-generic bookkeeping field.
type Pool[T any] struct {
	cells    []cell[T]
	freeBook []uint32
	freeHead uint32
	cap      uint32
	rc       int32
}

const emptyStack = ^uint32(0)

// NewPool creates a pool with the given capacity, starting refcount 1.
func NewPool[T any](capacity uint32) *Pool[T] {
	p := &Pool[T]{
		cells:    make([]cell[T], capacity),
		freeBook: make([]uint32, capacity),
		cap:      capacity,
		rc:       1,
	}
	for i := uint32(0); i < capacity; i++ {
		if i == capacity-1 {
			p.freeBook[i] = emptyStack
		} else {
			p.freeBook[i] = i + 1
		}
	}
	p.freeHead = 0
	if capacity == 0 {
		p.freeHead = emptyStack
	}
	return p
}

// Clone increments the pool's refcount, shared by submitter and
// completer per spec.md §4.7.
func (p *Pool[T]) Clone() *Pool[T] {
	atomic.AddInt32(&p.rc, 1)
	return p
}

// Release decrements the pool's refcount.
func (p *Pool[T]) Release() {
	atomic.AddInt32(&p.rc, -1)
}

func (p *Pool[T]) pushFree(idx uint32) {
	for {
		head := atomic.LoadUint32(&p.freeHead)
		p.freeBook[idx] = head
		if atomic.CompareAndSwapUint32(&p.freeHead, head, idx) {
			return
		}
	}
}

func (p *Pool[T]) popFree() (uint32, bool) {
	for {
		head := atomic.LoadUint32(&p.freeHead)
		if head == emptyStack {
			return 0, false
		}
		next := p.freeBook[head]
		if atomic.CompareAndSwapUint32(&p.freeHead, head, next) {
			return head, true
		}
	}
}

// Register allocates a cell and returns the Id the caller should tag
// its outgoing token with.
func (p *Pool[T]) Register() (Id, bool) {
	idx, ok := p.popFree()
	if !ok {
		return Id{}, false
	}
	c := &p.cells[idx]
	gen := atomic.AddUint32(&c.generation, 1)
	atomic.StoreUint32(&c.state, uint32(stateFree))
	c.done = nil
	c.err = nil
	return Id{Idx: idx, Generation: gen}, true
}

// Cancel detaches a registered-but-not-yet-awaited cell, e.g. because
// try_submit's ring push failed and the Id must never leak.
func (p *Pool[T]) Cancel(id Id) {
	p.clean(id)
}

func (p *Pool[T]) clean(id Id) {
	if id.Idx >= p.cap {
		return
	}
	c := &p.cells[id.Idx]
	if atomic.LoadUint32(&c.generation) != id.Generation {
		return
	}
	atomic.AddUint32(&c.generation, 1)
	atomic.StoreUint32(&c.state, uint32(stateFree))
	c.done = nil
	var zero T
	c.payload = zero
	c.err = nil
	p.pushFree(id.Idx)
}

// Op is the submitter's handle on a pending completion.
type Op[T any] struct {
	pool *Pool[T]
	id   Id
}

// Wait returns an Op for id. It does not touch the cell; Op.Wait is
// what installs the done channel (the Go stand-in for a Waker).
func (p *Pool[T]) Wait(id Id) Op[T] {
	return Op[T]{pool: p, id: id}
}

// Wait blocks until the op completes, the context is cancelled, or the
// cell's generation no longer matches (meaning it was already cleaned
// up by a concurrent cancellation) — implementing the Consumer poll
// loop of spec.md §4.7 as a blocking wait instead of a poll.
func (o Op[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	c := &o.pool.cells[o.id.Idx]

	for {
		cur := cellState(atomic.LoadUint32(&c.state))
		switch cur {
		case stateFree, stateWaker:
			if atomic.LoadUint32(&c.generation) != o.id.Generation {
				return zero, errGenerationMismatch
			}
			if !atomic.CompareAndSwapUint32(&c.state, uint32(cur), uint32(stateUpdating)) {
				continue
			}
			if cur == stateFree {
				c.done = make(chan struct{})
			}
			done := c.done
			if !atomic.CompareAndSwapUint32(&c.state, uint32(stateUpdating), uint32(stateWaker)) {
				continue // Complete ran meanwhile; re-observe Completed
			}

			select {
			case <-done:
				continue
			case <-ctx.Done():
				o.pool.clean(o.id)
				return zero, ctx.Err()
			}

		case stateCompleted:
			if !atomic.CompareAndSwapUint32(&c.state, uint32(stateCompleted), uint32(stateFree)) {
				continue
			}
			payload, err := c.payload, c.err
			var zp T
			c.payload = zp
			c.err = nil
			o.pool.pushFree(o.id.Idx)
			return payload, err

		case stateUpdating:
			continue // back off; a concurrent waiter is installing the waker
		}
	}
}

// Complete is called by the completer side once it resolves a CQE back
// to an Id: it writes the payload, transitions to Completed, and wakes
// any waiter. Generation mismatch means the submitter already
// cancelled; the payload is silently dropped (spec.md §4.8: "the
// completer's dispatch step must be total").
func (p *Pool[T]) Complete(id Id, payload T, err error) {
	if id.Idx >= p.cap {
		return
	}
	c := &p.cells[id.Idx]
	if atomic.LoadUint32(&c.generation) != id.Generation {
		logging.Default().Debug("dropping completion for stale op", "idx", id.Idx)
		return
	}

	c.payload = payload
	c.err = err
	prev := cellState(atomic.SwapUint32(&c.state, uint32(stateCompleted)))
	if prev == stateWaker {
		if c.done != nil {
			close(c.done)
		}
	}
	// prev == stateUpdating: the waiter's next read will observe
	// Completed directly. prev == stateFree: payload awaits a future Wait.
}

var errGenerationMismatch = &driverError{"generation mismatch: op already cancelled"}

type driverError struct{ msg string }

func (e *driverError) Error() string { return e.msg }
