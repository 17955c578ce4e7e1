// Package ring implements the bounded, slot-stamped MPMC queue of
// spec.md §4.6, following the classic Vyukov bounded MPMC design the
// same way original_source/evering/src/uring/sync.rs does: every slot
// carries a stamp that doubles as a generation counter, so producers
// and consumers coordinate with a single CAS on the slot itself rather
// than a separate full/empty flag. Stamp encoding and the full/empty
// predicates follow spec.md §4.6 literally: `one_lap =
// next_power_of_two(cap + 1)`, slot index `t & (one_lap-1)`, and the
// lap-boundary jump in tail/head advancement that skips the unused
// `[cap, one_lap)` index space.
//
// Ring.buf is, unlike a plain Go slice of slots, a caller-supplied byte
// range that may be (and for Region's submission/completion pair,
// always is) a slice of a shared-memory mapping: the ring header
// (head/tail/cap/one_lap/closed) and every slot's stamp+value live at
// fixed byte offsets inside it, read and written exclusively through
// sync/atomic over unsafe.Pointer, the same convention
// internal/header and internal/arena use to bind their own state onto
// mapped bytes. The first process to observe the embedded ring state
// as Uninitialized runs the one-time slot/stamp setup, mirroring
// internal/header's own attach-or-init CAS loop at a smaller scale, so
// that two attachers of the same region genuinely observe the same
// ring rather than each getting a private, process-local queue.
//
// T must have a fixed, pointer-free memory layout (plain value types,
// no Go pointers/interfaces/strings) so that storing it directly into
// shared bytes is safe — the same constraint spec.md's
// position-independent tokens are designed around. wireMsg, the only
// type Region instantiates this package with, satisfies this by
// construction.
package ring

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/shmuring/shmuring/internal/addrspan"
	"github.com/shmuring/shmuring/internal/interfaces"
)

// Ring header byte layout: state(8) | head(8) | tail(8) | cap(8) |
// oneLap(8) | closed(8), all 8-byte aligned so they can be accessed as
// atomic uint64 words regardless of what precedes them in a larger
// mapped region (the region's own header is itself a multiple of 8
// bytes, and mmap returns page-aligned memory to start with).
const (
	offState  = 0
	offHead   = 8
	offTail   = 16
	offCap    = 24
	offOneLap = 32
	offClosed = 40

	headerSize = 48
)

const (
	stateUninitialized uint64 = 0
	stateInitializing  uint64 = 1
	stateReady         uint64 = 2
)

type noOpObserver struct{}

func (noOpObserver) ObserveFull() {}

// align8 rounds n up to the next multiple of 8.
func align8(n uint64) uint64 { return (n + 7) &^ 7 }

// slotStride returns the byte footprint of one slot: an 8-byte stamp
// followed by T, padded so the next slot's stamp stays 8-byte aligned.
func slotStride[T any]() uint64 {
	var zero T
	return 8 + align8(uint64(unsafe.Sizeof(zero)))
}

// RequiredSize returns the number of bytes a Ring[T] of the given
// capacity needs from its backing buffer, including the ring header.
func RequiredSize[T any](cap uint32) uint32 {
	return uint32(uint64(headerSize) + uint64(cap)*slotStride[T]())
}

// Ring is a bounded MPMC queue bound to a caller-supplied byte buffer.
// Capacity, once established by whichever process initializes the
// buffer first, is fixed for the buffer's lifetime.
type Ring[T any] struct {
	buf      []byte
	slotsOff uint64
	stride   uint64
	cap      uint64
	oneLap   uint64
	observer interfaces.RingObserver
}

// New binds a Ring[T] of the given capacity to buf. buf must be at
// least RequiredSize[T](cap) bytes. If buf's embedded ring state is
// Uninitialized, this call performs the one-time setup (slot stamps,
// head/tail/cap/oneLap, closed flag) under a CAS-guarded Initializing
// state, the same shape internal/header.AttachOrInit uses for the
// region header; a racing initializer backs off with runtime.Gosched
// until the winner finishes, since ring setup is a fixed, short loop
// over `cap` stamp writes rather than anything warranting back-off's
// exponential-interval machinery. An already-Ready buffer is bound
// as-is (cap must match, or New panics) — this is the path a second
// attacher of an already-initialized shared region takes.
func New[T any](buf []byte, cap uint32) *Ring[T] {
	if cap == 0 {
		panic("ring: capacity must be > 0")
	}
	stride := slotStride[T]()
	need := uint64(headerSize) + uint64(cap)*stride
	if uint64(len(buf)) < need {
		panic("ring: backing buffer too small for requested capacity")
	}

	r := &Ring[T]{
		buf:      buf[:need],
		slotsOff: uint64(headerSize),
		stride:   stride,
		observer: noOpObserver{},
	}
	oneLap := uint64(addrspan.NextPowerOfTwo(cap + 1))

	for {
		switch atomic.LoadUint64(r.statePtr()) {
		case stateReady:
			existingCap := atomic.LoadUint64(r.capPtr())
			if existingCap != uint64(cap) {
				panic("ring: capacity mismatch attaching to an already-initialized ring")
			}
			r.cap = existingCap
			r.oneLap = atomic.LoadUint64(r.oneLapPtr())
			return r

		case stateInitializing:
			runtime.Gosched()

		default: // Uninitialized, or any stray value — treat as Uninitialized.
			if atomic.CompareAndSwapUint64(r.statePtr(), stateUninitialized, stateInitializing) {
				atomic.StoreUint64(r.headPtr(), 0)
				atomic.StoreUint64(r.tailPtr(), 0)
				atomic.StoreUint64(r.capPtr(), uint64(cap))
				atomic.StoreUint64(r.oneLapPtr(), oneLap)
				atomic.StoreUint64(r.closedPtr(), 0)
				for i := uint64(0); i < uint64(cap); i++ {
					atomic.StoreUint64(r.slotStampPtr(i), i)
				}
				r.cap = uint64(cap)
				r.oneLap = oneLap
				atomic.StoreUint64(r.statePtr(), stateReady)
				return r
			}
			// lost the race; loop and re-observe.
		}
	}
}

// NewLocal allocates its own process-local backing buffer and binds a
// Ring[T] to it. It exists for tests and single-process callers that
// have no shared-memory mapping to carve a ring out of; Region never
// uses it, since spec.md's ring pair must be visible to every attacher.
func NewLocal[T any](cap uint32) *Ring[T] {
	return New[T](make([]byte, RequiredSize[T](cap)), cap)
}

func (r *Ring[T]) statePtr() *uint64  { return (*uint64)(unsafe.Pointer(&r.buf[offState])) }
func (r *Ring[T]) headPtr() *uint64   { return (*uint64)(unsafe.Pointer(&r.buf[offHead])) }
func (r *Ring[T]) tailPtr() *uint64   { return (*uint64)(unsafe.Pointer(&r.buf[offTail])) }
func (r *Ring[T]) capPtr() *uint64    { return (*uint64)(unsafe.Pointer(&r.buf[offCap])) }
func (r *Ring[T]) oneLapPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.buf[offOneLap])) }
func (r *Ring[T]) closedPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.buf[offClosed])) }

func (r *Ring[T]) slotStampPtr(idx uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.buf[r.slotsOff+idx*r.stride]))
}

func (r *Ring[T]) slotValuePtr(idx uint64) *T {
	return (*T)(unsafe.Pointer(&r.buf[r.slotsOff+idx*r.stride+8]))
}

// SetObserver wires o to receive full-ring events. Passing nil reverts
// to the no-op observer.
func (r *Ring[T]) SetObserver(o interfaces.RingObserver) {
	if o == nil {
		o = noOpObserver{}
	}
	r.observer = o
}

// TryPush attempts a non-blocking push, returning (false, nil) on Full
// and (false, ErrDisconnected) if the ring is closed.
func (r *Ring[T]) TryPush(v T) (bool, error) {
	if atomic.LoadUint64(r.closedPtr()) != 0 {
		return false, ErrDisconnected
	}
	mask := r.oneLap - 1
	t := atomic.LoadUint64(r.tailPtr())
	for {
		idx := t & mask
		lap := t &^ mask
		stampPtr := r.slotStampPtr(idx)
		s := atomic.LoadUint64(stampPtr)

		if s == t {
			newT := t + 1
			if idx+1 >= r.cap {
				newT = lap + r.oneLap
			}
			if atomic.CompareAndSwapUint64(r.tailPtr(), t, newT) {
				*r.slotValuePtr(idx) = v
				atomic.StoreUint64(stampPtr, t+1)
				return true, nil
			}
			t = atomic.LoadUint64(r.tailPtr())
			continue
		}

		if s+r.oneLap == t+1 {
			// Candidate full: this slot's stamp is still the one a
			// consumer left behind one full lap ago. Confirm head hasn't
			// silently moved past it (a pop could race right here).
			head := atomic.LoadUint64(r.headPtr())
			if head+r.oneLap == t {
				r.observer.ObserveFull()
				return false, nil
			}
			t = atomic.LoadUint64(r.tailPtr())
			continue
		}

		// stamp lags another producer's claim; re-read and retry.
		t = atomic.LoadUint64(r.tailPtr())
	}
}

// TryPop attempts a non-blocking pop, returning (zero, false, nil) on
// Empty and (zero, false, ErrDisconnected) only once the ring is both
// closed and drained.
func (r *Ring[T]) TryPop() (T, bool, error) {
	var zero T
	mask := r.oneLap - 1
	h := atomic.LoadUint64(r.headPtr())
	for {
		idx := h & mask
		lap := h &^ mask
		stampPtr := r.slotStampPtr(idx)
		s := atomic.LoadUint64(stampPtr)

		if s == h+1 {
			newH := h + 1
			if idx+1 >= r.cap {
				newH = lap + r.oneLap
			}
			if atomic.CompareAndSwapUint64(r.headPtr(), h, newH) {
				v := *r.slotValuePtr(idx)
				*r.slotValuePtr(idx) = zero
				atomic.StoreUint64(stampPtr, h+r.oneLap)
				return v, true, nil
			}
			h = atomic.LoadUint64(r.headPtr())
			continue
		}

		if s == h {
			if atomic.LoadUint64(r.closedPtr()) != 0 {
				return zero, false, ErrDisconnected
			}
			return zero, false, nil
		}

		h = atomic.LoadUint64(r.headPtr())
	}
}

// ForcePush overwrites the oldest slot when the ring is full, returning
// the evicted value (ok==true) so the caller can dispose of it (e.g.
// release the token it denotes). If the ring was not full, it behaves
// like TryPush and ok is false. On Full it evicts via TryPop and
// retries the push rather than hand-rolling a second head/tail CAS
// pair, since TryPush/TryPop already encode the correct full/empty
// predicates for this capacity-exact indexing scheme.
func (r *Ring[T]) ForcePush(v T) (evicted T, ok bool, err error) {
	for {
		if atomic.LoadUint64(r.closedPtr()) != 0 {
			var zero T
			return zero, false, ErrDisconnected
		}

		pushed, pushErr := r.TryPush(v)
		if pushErr != nil {
			var zero T
			return zero, false, pushErr
		}
		if pushed {
			var zero T
			return zero, false, nil
		}

		old, popped, popErr := r.TryPop()
		if popErr != nil {
			var zero T
			return zero, false, popErr
		}
		if !popped {
			continue // raced with a consumer that drained it first; retry
		}
		if err := r.Push(v); err != nil {
			return old, true, err
		}
		return old, true, nil
	}
}

// Push blocks (busy-spinning) until v is enqueued or the ring closes.
func (r *Ring[T]) Push(v T) error {
	for {
		ok, err := r.TryPush(v)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// Pop blocks (busy-spinning) until a value is dequeued or the ring
// closes and drains.
func (r *Ring[T]) Pop() (T, error) {
	for {
		v, ok, err := r.TryPop()
		if err != nil {
			return v, err
		}
		if ok {
			return v, nil
		}
	}
}

// PopAll drains every currently-available value without blocking.
func (r *Ring[T]) PopAll() []T {
	var out []T
	for {
		v, ok, _ := r.TryPop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Len returns an approximate current length (may be stale under
// concurrent access, as with any lock-free queue's size()), decoded
// from head/tail's slot indices per spec.md §4.6.
func (r *Ring[T]) Len() int {
	t := atomic.LoadUint64(r.tailPtr())
	h := atomic.LoadUint64(r.headPtr())
	mask := r.oneLap - 1
	hidx := h & mask
	tidx := t & mask

	switch {
	case hidx < tidx:
		return int(tidx - hidx)
	case hidx > tidx:
		return int(r.cap - hidx + tidx)
	default:
		if h == t {
			return 0
		}
		return int(r.cap)
	}
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int { return int(r.cap) }

// Close marks the ring closed: further pushes fail with
// ErrDisconnected, and pops return remaining buffered values before
// also failing with ErrDisconnected.
func (r *Ring[T]) Close() {
	atomic.StoreUint64(r.closedPtr(), 1)
}

// Closed reports whether Close has been called.
func (r *Ring[T]) Closed() bool {
	return atomic.LoadUint64(r.closedPtr()) != 0
}

var (
	// ErrDisconnected is returned once the ring is closed and (for pops)
	// drained.
	ErrDisconnected = ringError{"disconnected"}
)

type ringError struct{ msg string }

func (e ringError) Error() string { return e.msg }
