package token

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shmuring/shmuring/internal/addrspan"
)

type widget struct {
	A, B uint32
}

func TestHashIsDeterministic(t *testing.T) {
	assert.Equal(t, Hash("hello"), Hash("hello"))
	assert.NotEqual(t, Hash("hello"), Hash("world"))
}

func TestTypeIDStableAcrossCalls(t *testing.T) {
	id1 := TypeIDFor[widget]()
	id2 := TypeIDFor[widget]()
	assert.Equal(t, id1, id2)
}

func TestTypeIDDiffersAcrossTypes(t *testing.T) {
	assert.NotEqual(t, TypeIDFor[widget](), TypeIDFor[uint64]())
}

func TestSizedRoundTrip(t *testing.T) {
	tok := NewSized[widget](addrspan.Span{StartOffset: 16, Size: 8})
	erased := tok.Erase()

	recalled, ok := Recall[widget](erased)
	assert.True(t, ok)
	assert.Equal(t, uint32(16), recalled.Span().StartOffset)
}

func TestRecallWrongTypeFails(t *testing.T) {
	tok := NewSized[widget](addrspan.Span{StartOffset: 16, Size: 8})
	_, ok := Recall[uint64](tok.Erase())
	assert.False(t, ok)
}

func TestSliceTokenCombinesHash(t *testing.T) {
	tok := NewSlice[widget](addrspan.Span{StartOffset: 32, Size: 80}, 10)
	erased := tok.Erase()
	assert.Equal(t, uint32(10), tok.Len())

	recalled, ok := Recall[widget](erased)
	assert.True(t, ok)
	assert.Equal(t, uint32(10), recalled.Len())

	_, ok = Recall[uint64](erased)
	assert.False(t, ok)
}
