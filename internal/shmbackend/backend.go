// Package shmbackend maps a contiguous byte range backed by a shared
// object (a memfd, a /dev/shm path, or an adopted file descriptor) into
// the process, following the minimal map/unmap/protect contract spec.md
// §6 asks of a region backend. The teacher's internal/queue/runner.go
// mmaps per-queue descriptor arrays and I/O buffers the same way
// (syscall.Syscall6(SYS_MMAP, ...) plus a matching SYS_MUNMAP); here the
// same shape maps a full IPC region instead of a single queue's slice.
package shmbackend

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/shmuring/shmuring/internal/logging"
)

// Handle names the shared object a region is backed by.
type Handle interface {
	// open returns an fd ready for mmap at the given size, and whether
	// this call was the one that created (vs. attached to) the object.
	open(size int) (fd int, created bool, err error)
	// cleanup releases any OS resources the handle itself owns (e.g. the
	// backing file), called by the last unmapper.
	cleanup() error
	String() string
}

// MemFDHandle backs the region with an anonymous memfd (memfd_create),
// suitable for two processes related by fork/exec that inherit the fd,
// or that pass it over a unix socket.
type MemFDHandle struct {
	Name  string
	Seals bool

	fd int
}

func (h *MemFDHandle) open(size int) (int, bool, error) {
	flags := uint(0)
	if h.Seals {
		flags |= unix.MFD_ALLOW_SEALING
	}
	fd, err := unix.MemfdCreate(h.Name, int(flags))
	if err != nil {
		return 0, false, fmt.Errorf("memfd_create %q: %w", h.Name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return 0, false, fmt.Errorf("ftruncate memfd %q: %w", h.Name, err)
	}
	h.fd = fd
	return fd, true, nil
}

func (h *MemFDHandle) cleanup() error {
	if h.fd > 0 {
		return unix.Close(h.fd)
	}
	return nil
}

func (h *MemFDHandle) String() string { return fmt.Sprintf("memfd:%s", h.Name) }

// ShmPathHandle backs the region with a path under /dev/shm (or any
// tmpfs), the classic cross-process rendezvous point: the initiator
// creates it exclusively, attachers just open it.
type ShmPathHandle struct {
	Path    string
	Initial bool // true if this process is the one expected to create it

	fd int
}

func (h *ShmPathHandle) open(size int) (int, bool, error) {
	flags := os.O_RDWR
	created := false
	fd, err := unix.Open(h.Path, flags|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err == nil {
		created = true
	} else if err == unix.EEXIST {
		fd, err = unix.Open(h.Path, flags, 0o600)
	}
	if err != nil {
		return 0, false, fmt.Errorf("open %q: %w", h.Path, err)
	}
	if created {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return 0, false, fmt.Errorf("ftruncate %q: %w", h.Path, err)
		}
	}
	h.fd = fd
	return fd, created, nil
}

func (h *ShmPathHandle) cleanup() error {
	if h.fd > 0 {
		unix.Close(h.fd)
	}
	return os.Remove(h.Path)
}

func (h *ShmPathHandle) String() string { return fmt.Sprintf("shm:%s", h.Path) }

// AdoptedFDHandle wraps an fd the caller already owns (e.g. received
// over a socket); shmuring never creates or removes it.
type AdoptedFDHandle struct {
	FD int
}

func (h *AdoptedFDHandle) open(int) (int, bool, error) { return h.FD, false, nil }
func (h *AdoptedFDHandle) cleanup() error               { return nil }
func (h *AdoptedFDHandle) String() string               { return fmt.Sprintf("fd:%d", h.FD) }

// Mapping is a live mmap of a Handle.
type Mapping struct {
	Base    uintptr
	Size    int
	Handle  Handle
	Created bool
	fd      int
}

// Map maps size bytes of h into the process, read-write shared unless
// readOnly is set.
func Map(h Handle, size int, readOnly bool) (*Mapping, error) {
	logger := logging.Default()

	fd, created, err := h.open(size)
	if err != nil {
		return nil, err
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		prot = unix.PROT_READ
	}

	mapFlags := unix.MAP_SHARED
	if fd < 0 {
		// AnonHandle: no backing fd, the mapping itself is the only copy.
		mapFlags |= unix.MAP_ANON
	}

	data, err := unix.Mmap(fd, 0, size, prot, mapFlags)
	if err != nil {
		if created {
			_ = h.cleanup()
		}
		return nil, fmt.Errorf("mmap %s: %w", h.String(), err)
	}

	logger.Debug("mapped shared region", "handle", h.String(), "size", size, "created", created)
	return &Mapping{
		Base:    uintptr(unsafePtr(data)),
		Size:    size,
		Handle:  h,
		Created: created,
		fd:      fd,
	}, nil
}

// Unmap releases the mapping. release indicates this caller should also
// release the backing object (i.e. it observed the region's refcount
// drop to zero).
func Unmap(m *Mapping, release bool) error {
	data := bytesFromPtr(m.Base, m.Size)
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	if release {
		if err := m.Handle.cleanup(); err != nil {
			return fmt.Errorf("cleanup backing object: %w", err)
		}
	} else if _, adopted := m.Handle.(*AdoptedFDHandle); !adopted && m.fd >= 0 {
		// Non-adopted handles that didn't create the object still own an
		// fd from open(); close it unless this is an adopted fd the
		// caller retains ownership of, or there never was one (AnonHandle).
		unix.Close(m.fd)
	}
	return nil
}

// Protect changes the mapping's protection flags in place.
func Protect(m *Mapping, prot int) error {
	data := bytesFromPtr(m.Base, m.Size)
	return unix.Mprotect(data, prot)
}
