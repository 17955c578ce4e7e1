package shmuring

import (
	"time"

	"github.com/shmuring/shmuring/internal/constants"
)

// Re-exported tunables, kept at package scope so callers configuring a
// Region do not need to import internal/constants directly.
const (
	HeaderMagic               = constants.HeaderMagic
	HeaderSize                = constants.HeaderSize
	DefaultArenaAlign         = constants.DefaultArenaAlign
	MinSegmentSize            = constants.MinSegmentSize
	DefaultMaxFreelistRetries = constants.DefaultMaxFreelistRetries
	DefaultRingCapacity       = constants.DefaultRingCapacity
	DefaultRegistryCapacity   = constants.DefaultRegistryCapacity
	DefaultContentionBudget   = constants.DefaultContentionBudget
	IOBufferSizePerTag        = constants.IOBufferSizePerTag
)

var (
	DefaultAttachInitialInterval time.Duration = constants.DefaultAttachInitialInterval
	DefaultAttachMaxInterval     time.Duration = constants.DefaultAttachMaxInterval
)
