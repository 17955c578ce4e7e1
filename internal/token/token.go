// Package token implements the type-erased, position-independent
// handles of spec.md §4.4: every wire type carries a compile-time
// TYPE_ID derived from FNV-1a over its type name, so a Token can be
// safely recalled into a TokenOf[T] only when the hash matches. Go has
// no const-eval over strings at compile time the way the original
// Rust TypeTag trait does, so TypeIDFor[T] computes the hash once per
// type via a package-level sync.Map cache keyed by the type's name,
// giving the same "stable across separate compilations" property the
// spec calls for (the hash depends only on the type name, not on a
// runtime-assigned id).
package token

import (
	"reflect"
	"sync"

	"github.com/shmuring/shmuring/internal/addrspan"
)

const fnvOffsetBasis uint64 = 14695981039346656037
const fnvPrime uint64 = 1099511628211

// Hash computes the FNV-1a hash of name.
func Hash(name string) uint64 {
	h := fnvOffsetBasis
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= fnvPrime
	}
	return h
}

// Combine order-sensitively mixes a wrapper hash with an element hash,
// e.g. for "slice of T": Combine(Hash("slice"), TypeIDFor[T]()).
func Combine(wrapper, elem uint64) uint64 {
	h := wrapper
	h ^= elem
	h *= fnvPrime
	return h
}

var typeIDCache sync.Map // type name (PkgPath + "." + Name) -> uint64

// TypeIDFor returns the stable TYPE_ID for T, derived from its
// reflect.Type name.
func TypeIDFor[T any]() uint64 {
	var zero T
	rt := reflect.TypeOf(zero)
	name := "<nil>"
	if rt != nil {
		name = rt.PkgPath() + "." + rt.Name()
	}
	if v, ok := typeIDCache.Load(name); ok {
		return v.(uint64)
	}
	id := Hash(name)
	actual, _ := typeIDCache.LoadOrStore(name, id)
	return actual.(uint64)
}

// Shape distinguishes a singly-sized value from a slice of known
// length, so Token recall can reconstruct the right pointer shape.
type Shape uint8

const (
	ShapeSized Shape = iota
	ShapeSlice
)

// Token is the type-erased, position-independent handle that crosses
// the ring: a span into the arena, a shape/length, and the TYPE_ID of
// the value it denotes.
type Token struct {
	Span  addrspan.Span
	Shape Shape
	Len   uint32 // element count when Shape == ShapeSlice, else ignored
	ID    uint64
}

// TokenOf is a Token statically known (by construction) to carry a T.
type TokenOf[T any] struct {
	inner Token
}

// NewSized wraps span as a TokenOf[T] for a single T value.
func NewSized[T any](span addrspan.Span) TokenOf[T] {
	return TokenOf[T]{inner: Token{Span: span, Shape: ShapeSized, ID: TypeIDFor[T]()}}
}

// NewSlice wraps span as a TokenOf[T] for a []T of the given length.
func NewSlice[T any](span addrspan.Span, length uint32) TokenOf[T] {
	sliceID := Combine(Hash("slice"), TypeIDFor[T]())
	return TokenOf[T]{inner: Token{Span: span, Shape: ShapeSlice, Len: length, ID: sliceID}}
}

// Erase discards static typing, producing the wire-format Token.
func (t TokenOf[T]) Erase() Token { return t.inner }

// Recall attempts to recover a TokenOf[T] from an erased Token,
// failing if the ID does not match T (or []T).
func Recall[T any](tok Token) (TokenOf[T], bool) {
	if tok.Shape == ShapeSized && tok.ID == TypeIDFor[T]() {
		return TokenOf[T]{inner: tok}, true
	}
	if tok.Shape == ShapeSlice && tok.ID == Combine(Hash("slice"), TypeIDFor[T]()) {
		return TokenOf[T]{inner: tok}, true
	}
	return TokenOf[T]{}, false
}

// Span returns the token's underlying address span.
func (t TokenOf[T]) Span() addrspan.Span { return t.inner.Span }

// Len returns the element count for a slice token (1 for a sized token).
func (t TokenOf[T]) Len() uint32 {
	if t.inner.Shape == ShapeSlice {
		return t.inner.Len
	}
	return 1
}

// PackedToken wraps a TokenOf[T] with an envelope H carrying
// out-of-band metadata (request correlation ids, exit signaling) that
// travels alongside the token without being part of T itself.
type PackedToken[H any, T any] struct {
	Header H
	Body   TokenOf[T]
}

// Id is the canonical correlation envelope used by the driver to match
// a completion back to its submitter.
type Id struct {
	Value uint64
}

// Exit is the canonical envelope used to signal a clean peer shutdown;
// a zero-value Exit carries no payload semantics beyond "closing".
type Exit struct {
	Reason string
}
