// Package shmuring provides the front-end "uring" handle of spec.md
// §4.8: a shared-memory region carrying an arena allocator and a pair
// of bounded rings, wired to an in-process op-cache so a submitter can
// `Submit` a request and `await` its response while a single completer
// loop drains the completion ring. It plays the same role the
// teacher's CreateAndServe did for a ublk block device, generalized
// from "attach a kernel block device" to "attach a shared-memory IPC
// region".
package shmuring

import (
	"context"

	"github.com/shmuring/shmuring/internal/arena"
	"github.com/shmuring/shmuring/internal/header"
	"github.com/shmuring/shmuring/internal/logging"
	"github.com/shmuring/shmuring/internal/pbox"
	"github.com/shmuring/shmuring/internal/ring"
	"github.com/shmuring/shmuring/internal/shmbackend"
	"github.com/shmuring/shmuring/internal/token"
)

// wireMsg is what actually travels through the submission/completion
// rings: a fixed-size PackedToken envelope carrying the correlation Id
// alongside a position-independent reference to the variable-length
// payload living in the arena.
type wireMsg = token.PackedToken[token.Id, byte]

// RegionParams configures a Region's backing object and internal
// layout. The zero value is not usable; use DefaultRegionParams.
type RegionParams struct {
	// Handle names the shared object two processes rendezvous on.
	Handle shmbackend.Handle

	// Size is the total mapped region size in bytes, covering the
	// header, both ring headers, and the arena heap.
	Size uint32

	// ReadOnly maps the region read-only (arena allocation is then
	// always rejected with ReadOnly).
	ReadOnly bool

	// RingCapacity is the slot count for each of the submission and
	// completion rings.
	RingCapacity uint32

	// ArenaStrategy selects the freelist search order (see internal/arena).
	ArenaStrategy arena.Strategy

	// AttachOptions tunes the header's attach-or-init back-off.
	AttachOptions header.Options
}

// DefaultRegionParams returns sensible defaults, matching
// internal/constants' package-level tunables.
func DefaultRegionParams(h shmbackend.Handle) RegionParams {
	return RegionParams{
		Handle:        h,
		Size:          4 << 20,
		RingCapacity:  DefaultRingCapacity,
		ArenaStrategy: arena.Pessimistic,
		AttachOptions: header.DefaultOptions(),
	}
}

// Region is a mapped, attached shared-memory IPC region: a header, an
// arena heap, and a request/response ring pair. Region itself does not
// know about clients or servers — Client and Server are thin role
// wrappers built on top of it.
type Region struct {
	params  RegionParams
	mapping *shmbackend.Mapping
	hdr     *header.View
	arena   *arena.Arena
	sq      *ring.Ring[wireMsg] // submission: client -> server
	cq      *ring.Ring[wireMsg] // completion: server -> client
	metrics *Metrics
}

// allocatorObserverAdapter and ringObserverAdapter let the lower-level
// arena/ring packages report into a Region's *Metrics without those
// packages importing the root package (see internal/interfaces).
type allocatorObserverAdapter struct{ m *Metrics }

func (a allocatorObserverAdapter) ObserveSlowPath()         { a.m.RecordAllocatorSlowPath() }
func (a allocatorObserverAdapter) ObserveDiscard(uint32)    { a.m.RecordAllocatorDiscard() }

type ringObserverAdapter struct{ m *Metrics }

func (a ringObserverAdapter) ObserveFull() { a.m.RecordRingFull() }

// headerRegionSize is the fixed region header's footprint. The
// submission and completion rings each get their own byte range
// immediately after it (see ringLayout), and the arena heap starts
// after both — so every attacher of the same backing object binds onto
// the same ring state instead of growing a private, process-local
// queue.
const headerRegionSize = HeaderSize

// ringLayout carves the two ring byte ranges and the arena heap out of
// a mapped region's bytes, all relative to buf[0] (i.e. past the region
// header).
type ringLayout struct {
	sq, cq, heap []byte
}

func carveRings(buf []byte, ringCapacity uint32) (ringLayout, error) {
	sqSize := ring.RequiredSize[wireMsg](ringCapacity)
	cqSize := ring.RequiredSize[wireMsg](ringCapacity)
	rest := buf[headerRegionSize:]
	if uint64(len(rest)) < uint64(sqSize)+uint64(cqSize) {
		return ringLayout{}, NewError("OpenRegion", CodeOutOfSize, "region too small to hold both ring headers at this capacity")
	}
	return ringLayout{
		sq:   rest[:sqSize],
		cq:   rest[sqSize : sqSize+cqSize],
		heap: rest[sqSize+cqSize:],
	}, nil
}

// OpenRegion maps params.Handle, attaches (or initializes) the header,
// and constructs the arena and ring pair over the mapped bytes.
func OpenRegion(ctx context.Context, params RegionParams) (*Region, error) {
	if params.Handle == nil {
		return nil, NewError("OpenRegion", CodeInvalidHeader, "nil backend handle")
	}
	if params.RingCapacity == 0 {
		params.RingCapacity = DefaultRingCapacity
	}

	m, err := shmbackend.Map(params.Handle, int(params.Size), params.ReadOnly)
	if err != nil {
		return nil, WrapError("OpenRegion", err)
	}

	buf := mappingBytes(m)
	hv := header.New(buf[:headerRegionSize])

	status, err := header.AttachOrInit(ctx, hv, params.AttachOptions)
	if err != nil {
		_ = shmbackend.Unmap(m, false)
		return nil, wrapHeaderError(err)
	}
	if status != header.StatusInitialized {
		_ = shmbackend.Unmap(m, false)
		return nil, NewRegionError("OpenRegion", params.Handle.String(), CodeInvalidHeader, "header did not reach Initialized")
	}

	layout, err := carveRings(buf, params.RingCapacity)
	if err != nil {
		_ = shmbackend.Unmap(m, false)
		return nil, err
	}
	a := arena.New(layout.heap, DefaultArenaAlign, params.ArenaStrategy, params.ReadOnly)

	r := &Region{
		params:  params,
		mapping: m,
		hdr:     hv,
		arena:   a,
		sq:      ring.New[wireMsg](layout.sq, params.RingCapacity),
		cq:      ring.New[wireMsg](layout.cq, params.RingCapacity),
		metrics: NewMetrics(),
	}
	a.SetObserver(allocatorObserverAdapter{r.metrics})
	r.sq.SetObserver(ringObserverAdapter{r.metrics})
	r.cq.SetObserver(ringObserverAdapter{r.metrics})

	logging.Default().Info("region opened", "handle", params.Handle.String(), "size", params.Size, "rc", hv.Rc())
	return r, nil
}

// Metrics exposes the region's allocator/ring/submit counters.
func (r *Region) Metrics() *Metrics { return r.metrics }

// Close finalizes the header and unmaps the region. When this call
// observes rc drop to zero, it also closes the (now shared-memory
// resident) ring pair and releases the backing object — an earlier
// unmapper must not sever the ring out from under a peer that is still
// attached.
func (r *Region) Close() error {
	r.metrics.Stop()
	lastUnmapper := header.Finalize(r.hdr)
	if lastUnmapper {
		r.sq.Close()
		r.cq.Close()
	}

	if err := shmbackend.Unmap(r.mapping, lastUnmapper); err != nil {
		return WrapError("Close", err)
	}
	logging.Default().Info("region closed", "released_backing_object", lastUnmapper)
	return nil
}

// Arena exposes the region's allocator, primarily for tests and
// diagnostics; Client/Server use it internally to stage payloads.
func (r *Region) Arena() *arena.Arena { return r.arena }

// allocatorFor adapts a Region's arena to pbox.Allocator; *arena.Arena
// already satisfies the interface structurally, this just names the
// conversion at the call sites that stage request/response payloads.
func allocatorFor(r *Region) pbox.Allocator { return r.arena }

func wrapHeaderError(err error) error {
	type coder interface{ Code() string }
	if c, ok := err.(coder); ok {
		switch c.Code() {
		case "invalid header":
			return NewError("OpenRegion", CodeInvalidHeader, err.Error())
		case "contention":
			return NewError("OpenRegion", CodeContention, err.Error())
		}
	}
	return WrapError("OpenRegion", err)
}
