// Package pbox implements the owning/refcounted wrappers of spec.md
// §4.3: PBox[T] is the sole-owner handle to an arena allocation, PArc[T]
// layers a refcount on top. Both convert to and from the position-
// independent token package so ownership can cross the ring: a Release
// on the sender side must not be called after the token is pushed, and
// the receiver becomes sole owner on a successful pop.
package pbox

import (
	"sync/atomic"
	"unsafe"

	"github.com/shmuring/shmuring/internal/addrspan"
	"github.com/shmuring/shmuring/internal/arena"
	"github.com/shmuring/shmuring/internal/token"
)

// Allocator is the minimal surface PBox/PArc need: allocate/free spans
// and resolve a span back to process-local bytes. *arena.Arena plus a
// base-slice accessor satisfies it.
type Allocator interface {
	Alloc(size, align uint32) (arena.Meta, error)
	Dealloc(m arena.Meta) bool
	Bytes(span addrspan.Span) []byte
}

// PBox is the owning handle to a single in-arena T, or a []T when
// length > 1 — length is carried so IntoToken can reproduce the right
// Sized/Slice shape per spec.md §4.4.
type PBox[T any] struct {
	meta   arena.Meta
	alloc  Allocator
	length int
}

// New allocates room for a T in alloc, writes initial, and returns the
// owning box. A zero-sized T yields a null box with no allocation.
func New[T any](alloc Allocator, initial T) (PBox[T], error) {
	var zero T
	size := uint32(unsafe.Sizeof(zero))
	if size == 0 {
		return PBox[T]{alloc: alloc, length: 1}, nil
	}
	m, err := alloc.Alloc(size, uint32(unsafe.Alignof(zero)))
	if err != nil {
		return PBox[T]{}, err
	}
	b := PBox[T]{meta: m, alloc: alloc, length: 1}
	*b.ptr() = initial
	return b, nil
}

// NewSlice allocates room for length Ts, populating each element with
// fill(i).
func NewSlice[T any](alloc Allocator, length int, fill func(i int) T) (PBox[T], error) {
	var zero T
	elemSize := uint32(unsafe.Sizeof(zero))
	size := elemSize * uint32(length)
	if size == 0 {
		return PBox[T]{alloc: alloc, length: length}, nil
	}
	m, err := alloc.Alloc(size, uint32(unsafe.Alignof(zero)))
	if err != nil {
		return PBox[T]{}, err
	}
	b := PBox[T]{meta: m, alloc: alloc, length: length}
	s := b.slicePtr(length)
	for i := 0; i < length; i++ {
		s[i] = fill(i)
	}
	return b, nil
}

// Null reports whether the box holds no allocation.
func (b PBox[T]) Null() bool { return b.meta.Null() }

func (b PBox[T]) ptr() *T {
	data := b.alloc.Bytes(b.meta.View)
	return (*T)(unsafe.Pointer(&data[0]))
}

func (b PBox[T]) slicePtr(length int) []T {
	data := b.alloc.Bytes(b.meta.View)
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), length)
}

// Get dereferences the box.
func (b PBox[T]) Get() *T {
	if b.Null() {
		return nil
	}
	return b.ptr()
}

// CopyFromSlice allocates a []T box and copies src into it.
func CopyFromSlice[T any](alloc Allocator, src []T) (PBox[T], error) {
	return NewSlice[T](alloc, len(src), func(i int) T { return src[i] })
}

// Release frees the box's underlying allocation. Calling it after the
// box's token has been pushed onto a ring is a use-after-transfer bug
// the caller is responsible for avoiding, mirroring the ring's
// ownership-transfer contract.
func (b PBox[T]) Release() bool {
	if b.Null() {
		return true
	}
	return b.alloc.Dealloc(b.meta)
}

// IntoToken consumes the box, returning the position-independent token
// that can be pushed across the ring. The allocator is returned
// separately: the receiver reconstructs using its own allocator handle.
func IntoToken[T any](b PBox[T]) (token.TokenOf[T], Allocator) {
	if b.length > 1 {
		return token.NewSlice[T](b.meta.Erase(), uint32(b.length)), b.alloc
	}
	return token.NewSized[T](b.meta.Erase()), b.alloc
}

// FromToken rebuilds an owning box from a token and the receiver's
// allocator handle, implementing spec.md §4.3's TokenOf::detoken.
func FromToken[T any](tok token.TokenOf[T], alloc Allocator) PBox[T] {
	span := tok.Span()
	return PBox[T]{meta: arena.Meta{Raw: span, View: span}, alloc: alloc, length: int(tok.Len())}
}

// arcCell is the inner layout spec.md §4.3 describes: {rc, data}.
type arcCell[T any] struct {
	rc   uint64
	data T
}

// PArc is a refcounted handle to a single in-arena T, sharing ownership
// across multiple holders within one process (or, since the data lives
// in shared memory, across processes that each hold their own PArc
// wrapping the same span).
type PArc[T any] struct {
	cell PBox[arcCell[T]]
}

// NewArc allocates a T plus an embedded refcount, starting at 1.
func NewArc[T any](alloc Allocator, initial T) (PArc[T], error) {
	boxed, err := New[arcCell[T]](alloc, arcCell[T]{rc: 1, data: initial})
	if err != nil {
		return PArc[T]{}, err
	}
	return PArc[T]{cell: boxed}, nil
}

// Clone increments the refcount (relaxed: concurrent clones don't need
// to synchronize with each other, only with the eventual drop).
func (a PArc[T]) Clone() PArc[T] {
	atomic.AddUint64(&a.cell.Get().rc, 1)
	return a
}

// Get dereferences the arc's data.
func (a PArc[T]) Get() *T { return &a.cell.Get().data }

// Release decrements the refcount and, if it reaches zero, frees the
// underlying allocation (the acquire fence spec.md §8 calls for is
// satisfied by sync/atomic.AddUint64's full barrier on most Go
// architectures; callers that need a true acquire-only fence should
// pair this with atomic.LoadUint64 first).
func (a PArc[T]) Release() bool {
	if atomic.AddUint64(&a.cell.Get().rc, ^uint64(0)) == 0 {
		return a.cell.Release()
	}
	return false
}
