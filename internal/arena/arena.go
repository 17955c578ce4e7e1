// Package arena implements the bump+freelist allocator of spec.md §4.2:
// a monotone bump pointer for the fast path, backed by a lock-free
// freelist of recycled segments for the slow path. Freed segments are
// pushed at the head of the list, so it is kept in LIFO order, not
// sorted by size; the slow path walks it from the head and takes the
// first segment the Strategy predicate accepts. Freelist
// nodes are stored inside the recycled memory itself, packed as a
// single 64-bit atomic (size:u32, next:u32), so insertion and removal
// are single-CAS operations — the same "node carries its own link"
// trick original_source/evering/src/arena.rs uses, expressed with
// Go's sync/atomic instead of Rust's atomic types.
//
// All offsets are relative to the arena's own base (the first byte
// after the region and registry headers), never to the process's
// virtual address space; addrspan.Span is the only position-independent
// currency this package deals in.
package arena

import (
	"sync/atomic"
	"unsafe"

	"github.com/shmuring/shmuring/internal/addrspan"
	"github.com/shmuring/shmuring/internal/constants"
	"github.com/shmuring/shmuring/internal/interfaces"
	"github.com/shmuring/shmuring/internal/logging"
)

// noOpObserver discards every event; it is the default until SetObserver
// is called.
type noOpObserver struct{}

func (noOpObserver) ObserveSlowPath()        {}
func (noOpObserver) ObserveDiscard(uint32) {}

// Strategy selects the freelist search order.
type Strategy uint8

const (
	// Optimistic is first-fit: request_size >= next_segment_size.
	Optimistic Strategy = iota
	// Pessimistic takes the first freelist segment in list order that
	// satisfies request_size <= next_segment_size; the list is unsorted,
	// so this is not a best-fit search.
	Pessimistic
)

// Meta describes a live allocation in this process's address space: the
// raw bump-reserved span and the (possibly smaller, alignment-shifted)
// usable view inside it.
type Meta struct {
	Raw  addrspan.Span
	View addrspan.Span
}

// Null reports whether m denotes no allocation (ZST / zero-length slice).
func (m Meta) Null() bool { return m.View.Null() }

// Erase converts a Meta to its position-independent form for storage in
// shared structures (tokens, rings). Only the View span is kept; the Raw
// span is dropped, so pbox.FromToken rebuilds a Meta whose Raw equals
// this View.
func (m Meta) Erase() addrspan.Span { return m.View }

// Arena is a bump+freelist allocator over a shared byte slice.
type Arena struct {
	buf       []byte
	strategy  Strategy
	readOnly  bool
	allocated uint32 // atomic: bump high-water mark, relative to buf[0]
	discarded uint32 // atomic: bytes permanently lost to leaked tiny segments
	freeHead  uint32 // atomic: offset of first freelist node, 0 == empty
	observer  interfaces.AllocatorObserver
}

// New wraps buf as an arena heap. start reserves the leading bytes
// (e.g. arena header) so offset 0 remains reserved as the null span
// sentinel per addrspan's convention.
func New(buf []byte, start uint32, strategy Strategy, readOnly bool) *Arena {
	if start == 0 {
		start = constants.DefaultArenaAlign
	}
	return &Arena{buf: buf, strategy: strategy, readOnly: readOnly, allocated: start, observer: noOpObserver{}}
}

// SetObserver wires o to receive slow-path/discard events. Passing nil
// reverts to the no-op observer.
func (a *Arena) SetObserver(o interfaces.AllocatorObserver) {
	if o == nil {
		o = noOpObserver{}
	}
	a.observer = o
}

// Size returns the total usable arena size in bytes.
func (a *Arena) Size() uint32 { return uint32(len(a.buf)) }

// Bytes resolves a position-independent span to this process's local
// view of the arena's backing memory — the one place a Meta's offsets
// turn back into addressable bytes (spec.md §4.2's "recall").
func (a *Arena) Bytes(span addrspan.Span) []byte {
	if span.Null() {
		return nil
	}
	return a.buf[span.StartOffset:span.End()]
}

// Allocated returns the current bump high-water mark.
func (a *Arena) Allocated() uint32 { return atomic.LoadUint32(&a.allocated) }

// Discarded returns bytes permanently lost to sub-MinSegmentSize leaks.
func (a *Arena) Discarded() uint32 { return atomic.LoadUint32(&a.discarded) }

// Remained returns the bytes never touched by the bump pointer. It does
// not include reclaimable freelist bytes.
func (a *Arena) Remained() uint32 { return a.Size() - a.Allocated() }

type arenaError struct {
	code string
	msg  string
}

func (e *arenaError) Error() string { return e.msg }
func (e *arenaError) Code() string  { return e.code }

func errOutOfSize(msg string) error    { return &arenaError{code: "out of size", msg: msg} }
func errUnenoughSpace(msg string) error { return &arenaError{code: "unenough space", msg: msg} }
func errReadOnly() error               { return &arenaError{code: "read only", msg: "arena attached read-only"} }

// Alloc reserves size bytes aligned to align, trying the bump fast path
// first and falling back to the freelist.
func (a *Arena) Alloc(size, align uint32) (Meta, error) {
	if a.readOnly {
		return Meta{}, errReadOnly()
	}
	if align == 0 {
		align = constants.DefaultArenaAlign
	}
	if size == 0 {
		return Meta{}, nil
	}
	if uint64(size)+uint64(align) > uint64(^uint32(0)) {
		return Meta{}, errOutOfSize("size/align overflow uint32")
	}

	if m, ok := a.bumpAlloc(size, align); ok {
		return m, nil
	}

	a.observer.ObserveSlowPath()
	if m, ok := a.freelistAlloc(size, align); ok {
		return m, nil
	}

	return Meta{}, errUnenoughSpace("no bump capacity and no freelist segment fits")
}

func (a *Arena) bumpAlloc(size, align uint32) (Meta, bool) {
	for {
		prev := atomic.LoadUint32(&a.allocated)
		aligned := addrspan.AlignUp(prev, align)
		want := aligned + size
		if want < aligned || want > a.Size() {
			return Meta{}, false
		}
		if atomic.CompareAndSwapUint32(&a.allocated, prev, want) {
			raw := addrspan.Span{StartOffset: prev, Size: want - prev}
			view := addrspan.Span{StartOffset: aligned, Size: size}
			return Meta{Raw: raw, View: view}, true
		}
	}
}

// segment node layout packed into 8 bytes at the start of a recycled
// span: [0:4) size, [4:8) next offset (0 == tail sentinel).
func (a *Arena) nodeAt(off uint32) *uint64 {
	return (*uint64)(unsafe.Pointer(&a.buf[off]))
}

func packNode(size, next uint32) uint64 {
	return uint64(size) | uint64(next)<<32
}

func unpackNode(v uint64) (size, next uint32) {
	return uint32(v), uint32(v >> 32)
}

func (a *Arena) freelistAlloc(size, align uint32) (Meta, bool) {
	need := size + align - 1
	for attempt := 0; attempt < constants.DefaultMaxFreelistRetries; attempt++ {
		prevOff := uint32(0)
		curOff := atomic.LoadUint32(&a.freeHead)

		for curOff != 0 {
			curNode := atomic.LoadUint64(a.nodeAt(curOff))
			curSize, curNext := unpackNode(curNode)
			if curSize == 0 {
				// a concurrent remover marked this node; restart the walk.
				break
			}
			if a.satisfies(need, curSize) {
				if !atomic.CompareAndSwapUint64(a.nodeAt(curOff), curNode, packNode(0, curNext)) {
					break // lost the race, restart
				}
				// unlink: point prev (or head) at curNext.
				if prevOff == 0 {
					if !atomic.CompareAndSwapUint32(&a.freeHead, curOff, curNext) {
						// someone else changed head concurrently; node stays
						// marked-removed and is effectively leaked from the
						// list, but its bytes are still returned to caller.
						logging.Default().Warn("arena freelist head changed during removal", "offset", curOff)
					}
				} else {
					prevNode := atomic.LoadUint64(a.nodeAt(prevOff))
					prevSize, _ := unpackNode(prevNode)
					atomic.CompareAndSwapUint64(a.nodeAt(prevOff), prevNode, packNode(prevSize, curNext))
				}

				raw := addrspan.Span{StartOffset: curOff, Size: curSize}
				aligned := addrspan.AlignUp(curOff, align)
				view := addrspan.Span{StartOffset: aligned, Size: size}

				if curOff+curSize > aligned+size+constants.MinSegmentSize {
					leftover := addrspan.Span{StartOffset: aligned + size, Size: curOff + curSize - aligned - size}
					raw.Size = aligned + size - curOff
					a.free(leftover)
				}
				return Meta{Raw: raw, View: view}, true
			}
			prevOff = curOff
			curOff = curNext
		}
	}
	return Meta{}, false
}

func (a *Arena) satisfies(reqSize, segSize uint32) bool {
	if a.strategy == Optimistic {
		return reqSize >= segSize
	}
	return reqSize <= segSize
}

// Dealloc returns a Meta's raw span to the allocator. It returns true
// iff the span was reclaimed (either by shrinking the bump pointer or
// by insertion into the freelist); spans smaller than MinSegmentSize
// are leaked and counted in Discarded.
func (a *Arena) Dealloc(m Meta) bool {
	if a.readOnly || m.Null() {
		return false
	}
	return a.free(m.Raw)
}

func (a *Arena) free(span addrspan.Span) bool {
	// Try to shrink the bump pointer: only possible if this span is
	// exactly the most-recently-allocated tail.
	end := span.End()
	if atomic.CompareAndSwapUint32(&a.allocated, end, span.StartOffset) {
		return true
	}

	if span.Size < constants.MinSegmentSize {
		atomic.AddUint32(&a.discarded, span.Size)
		a.observer.ObserveDiscard(span.Size)
		return false
	}

	for {
		head := atomic.LoadUint32(&a.freeHead)
		atomic.StoreUint64(a.nodeAt(span.StartOffset), packNode(span.Size, head))
		if atomic.CompareAndSwapUint32(&a.freeHead, head, span.StartOffset) {
			return true
		}
	}
}
