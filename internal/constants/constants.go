// Package constants holds the default sizes and tunables shared across
// the region, arena, ring, registry and driver packages.
package constants

import "time"

// Header layout.
const (
	// HeaderMagic is the sentinel word written once a region header has
	// completed initialization.
	HeaderMagic uint16 = 0xABCD

	// HeaderSize is the byte size of the fixed region header (magic +
	// status + rc, padded to 8-byte alignment).
	HeaderSize = 16
)

// Arena defaults.
const (
	// DefaultArenaAlign is the alignment Alloc uses when the caller
	// passes align 0, and the default reserved start of an arena heap.
	DefaultArenaAlign = 8

	// MinSegmentSize is the smallest freed block that can host a
	// SegmentNode; anything smaller is leaked (spec.md §4.2).
	MinSegmentSize = 16

	// SegmentNodeSize is the size in bytes of the packed (size,next)
	// freelist node written at the start of a recycled segment.
	SegmentNodeSize = 8

	// DefaultMaxFreelistRetries bounds the slow-path CAS retries before
	// alloc gives up and reports UnenoughSpace.
	DefaultMaxFreelistRetries = 5
)

// Ring defaults.
const (
	// DefaultRingCapacity is used when a caller does not specify one.
	DefaultRingCapacity = 256

	// RingBackoffSpins is a spin-count tunable for blocking ring calls.
	// internal/ring does not read it: Ring.Push and Ring.Pop busy-spin
	// without yielding.
	RingBackoffSpins = 32
)

// Registry defaults.
const (
	// DefaultRegistryCapacity is the default number of slab entries.
	DefaultRegistryCapacity = 1024
)

// Header attach/init back-off.
const (
	// DefaultContentionBudget is the number of back-off attempts
	// AttachOrInit makes while observing Initializing before returning
	// Contention to the caller.
	DefaultContentionBudget = 20

	// DefaultAttachInitialInterval is the first back-off interval.
	DefaultAttachInitialInterval = 500 * time.Microsecond

	// DefaultAttachMaxInterval caps the back-off growth.
	DefaultAttachMaxInterval = 20 * time.Millisecond
)

// IOBufferSizePerTag is a scratch buffer size for staging
// request/response payloads outside shared memory. It is re-exported by
// the root package; no code in this module reads it.
const IOBufferSizePerTag = 64 * 1024
