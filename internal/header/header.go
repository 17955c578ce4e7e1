// Package header implements the region header state machine of
// spec.md §3: a magic word, a status byte, and a live-handle refcount,
// attached to or initialized idempotently by whichever process reaches
// it first. It mirrors original_source/evering/src/header.rs's
// Header<T: Layout>/RcMeta shape (magic: AtomicU16, status: AtomicU8,
// rc: AtomicUsize), and borrows its attach-then-retry control flow from
// the teacher's internal/ctrl/control.go AddDevice back-off loop.
package header

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v5"

	"github.com/shmuring/shmuring/internal/constants"
	"github.com/shmuring/shmuring/internal/logging"
)

// Status is the region header's lifecycle state (spec.md §3).
type Status uint8

const (
	StatusUninitialized Status = 0
	StatusInitializing  Status = 1
	StatusInitialized   Status = 2
	StatusCorrupted     Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusInitialized:
		return "initialized"
	case StatusCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Layout lists the header's logical fields and their widths. View does
// not overlay it onto shared memory: it stores magic, status and rc each
// in its own 4-byte word at byte offsets 0, 4 and 8, padded to
// HeaderSize for alignment of whatever follows it in the region.
type Layout struct {
	Magic  uint16
	Status uint8
	_      uint8
	Rc     uint32
}

// View is a header bound to a live byte slice of shared memory. All
// field access goes through atomics; no Go struct is ever overlaid
// directly onto the slice, since Go does not guarantee atomic-sized
// field alignment the way a C/Rust #[repr(C)] struct would.
type View struct {
	buf []byte
}

// New binds a View to the first constants.HeaderSize bytes of buf.
func New(buf []byte) *View {
	if len(buf) < constants.HeaderSize {
		panic("header: buffer smaller than HeaderSize")
	}
	return &View{buf: buf[:constants.HeaderSize]}
}

func (v *View) magicPtr() *uint32  { return (*uint32)(ptr(v.buf[0:4])) }
func (v *View) statusPtr() *uint32 { return (*uint32)(ptr(v.buf[4:8])) }
func (v *View) rcPtr() *uint32     { return (*uint32)(ptr(v.buf[8:12])) }

func (v *View) readMagic() uint16 {
	return uint16(atomic.LoadUint32(v.magicPtr()))
}

func (v *View) writeMagic(m uint16) {
	atomic.StoreUint32(v.magicPtr(), uint32(m))
}

func (v *View) loadStatus() Status {
	return Status(atomic.LoadUint32(v.statusPtr()))
}

func (v *View) storeStatus(s Status) {
	atomic.StoreUint32(v.statusPtr(), uint32(s))
}

func (v *View) casStatus(old, new Status) bool {
	return atomic.CompareAndSwapUint32(v.statusPtr(), uint32(old), uint32(new))
}

func (v *View) incRc() uint32 {
	return atomic.AddUint32(v.rcPtr(), 1)
}

func (v *View) decRc() uint32 {
	return atomic.AddUint32(v.rcPtr(), ^uint32(0))
}

// Rc returns the current live-handle count.
func (v *View) Rc() uint32 { return atomic.LoadUint32(v.rcPtr()) }

// Status returns the current status without mutating anything.
func (v *View) Status() Status { return v.loadStatus() }

// Options configures AttachOrInit's back-off while waiting out a peer
// that is mid-Initializing.
type Options struct {
	ContentionBudget int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
}

// DefaultOptions mirrors constants.DefaultContentionBudget and the
// exponential back-off intervals used across the codebase.
func DefaultOptions() Options {
	return Options{
		ContentionBudget: constants.DefaultContentionBudget,
		InitialInterval:  constants.DefaultAttachInitialInterval,
		MaxInterval:      constants.DefaultAttachMaxInterval,
	}
}

// AttachOrInit implements spec.md §3's attach_or_init: the first
// process to reach an Uninitialized header initializes it; every other
// process attaches to the resulting Initialized header. A Corrupted
// header is terminal and is never re-initialized. It returns the
// resolved status (always StatusInitialized on success) and an error
// when the header is Corrupted or contention persists beyond
// opts.ContentionBudget.
func AttachOrInit(ctx context.Context, v *View, opts Options) (Status, error) {
	logger := logging.Default()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialInterval
	bo.MaxInterval = opts.MaxInterval

	attempts := 0
	for {
		st := v.loadStatus()
		switch st {
		case StatusInitialized:
			v.incRc()
			return StatusInitialized, nil

		case StatusCorrupted:
			return StatusCorrupted, errCorrupted()

		case StatusInitializing:
			attempts++
			if attempts > opts.ContentionBudget {
				return StatusInitializing, errContention()
			}
			d := bo.NextBackOff()
			logger.Debug("header contended, backing off", "attempt", attempts, "interval", d)
			select {
			case <-ctx.Done():
				return StatusInitializing, ctx.Err()
			case <-time.After(d):
			}

		default: // Uninitialized, or any other raw value — treat as Uninitialized
			if v.casStatus(st, StatusInitializing) {
				v.writeMagic(constants.HeaderMagic)
				atomic.StoreUint32(v.rcPtr(), 1)
				v.storeStatus(StatusInitialized)
				logger.Debug("header initialized", "magic", constants.HeaderMagic)
				return StatusInitialized, nil
			}
			// lost the race; loop and re-observe.
		}
	}
}

// Finalize decrements rc without touching status, per spec.md §3: "the
// header is not zeroed; future attachers will see stale magic". It
// returns true when this call observed the transition to rc == 0,
// meaning the caller is responsible for releasing the backing object.
func Finalize(v *View) bool {
	return v.decRc() == 0
}

// ValidateMagic reports whether the stored magic matches the expected
// sentinel, used by readers attaching read-only to a header they did
// not initialize.
func (v *View) ValidateMagic() bool {
	return v.readMagic() == constants.HeaderMagic
}

func errCorrupted() error {
	return &headerError{code: "invalid header", msg: "header status is Corrupted"}
}

func errContention() error {
	return &headerError{code: "contention", msg: "stuck observing Initializing beyond contention budget"}
}

type headerError struct {
	code string
	msg  string
}

func (e *headerError) Error() string { return e.msg }

// Code returns the spec.md §7 error-code string this failure maps to,
// read by the root package's wrapHeaderError (region.go) without
// importing this package's error type directly.
func (e *headerError) Code() string { return e.code }

// ptr narrows a 4-byte slice into a *uint32 for atomic access. Callers
// must ensure b is at least 4 bytes and 4-byte aligned, which New
// guarantees by construction of the buffer offsets.
func ptr(b []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[0]))
}
