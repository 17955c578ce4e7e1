package shmbackend

import "unsafe"

// unsafePtr returns the address of the first byte of a mmap'd slice,
// recorded as Mapping.Base.
func unsafePtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// bytesFromPtr reconstructs the []byte view unix.Munmap/unix.Mprotect
// expect from a base address and length recorded in a Mapping.
func bytesFromPtr(base uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}
