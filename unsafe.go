package shmuring

import (
	"unsafe"

	"github.com/shmuring/shmuring/internal/shmbackend"
)

// mappingBytes reconstructs the []byte view of a mapped region from its
// base address and size, mirroring shmbackend's own internal
// conversion. It is the only raw-pointer conversion in the root
// package; internal/header, internal/arena, internal/ring and
// internal/pbox each use unsafe.Pointer to bind their own state onto
// these bytes.
func mappingBytes(m *shmbackend.Mapping) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(m.Base)), m.Size)
}
