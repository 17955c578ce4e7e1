// Package interfaces provides the narrow observer interfaces the
// lower-level packages (arena, ring) report slow-path and backpressure
// events through. They exist separately from the root package's
// Metrics/Observer types to avoid a circular import: internal/arena and
// internal/ring sit below the root package in the dependency graph, so
// they can't import it to report into a *Metrics directly.
package interfaces

// AllocatorObserver receives arena allocator slow-path signals.
type AllocatorObserver interface {
	// ObserveSlowPath is called when Alloc falls through the bump
	// fast path into the freelist.
	ObserveSlowPath()
	// ObserveDiscard is called when Dealloc leaks a span smaller than
	// the minimum freelist segment size.
	ObserveDiscard(bytes uint32)
}

// RingObserver receives ring backpressure signals.
type RingObserver interface {
	// ObserveFull is called whenever TryPush finds the ring at capacity.
	ObserveFull()
}
