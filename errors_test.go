package shmuring

import (
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("AttachOrInit", CodeInvalidHeader, "bad magic")

	if err.Op != "AttachOrInit" {
		t.Errorf("Expected Op=AttachOrInit, got %s", err.Op)
	}
	if err.Code != CodeInvalidHeader {
		t.Errorf("Expected Code=CodeInvalidHeader, got %s", err.Code)
	}

	expected := "shmuring: bad magic (op=AttachOrInit)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("Map", CodePermissionDenied, syscall.EPERM)

	if err.Errno != syscall.EPERM {
		t.Errorf("Expected Errno=EPERM, got %v", err.Errno)
	}
	if err.Code != CodePermissionDenied {
		t.Errorf("Expected Code=CodePermissionDenied, got %s", err.Code)
	}
}

func TestRegionError(t *testing.T) {
	err := NewRegionError("Alloc", "/dev/shm/ring0", CodeUnenoughSpace, "no free span")
	if err.Region != "/dev/shm/ring0" {
		t.Errorf("Expected Region=/dev/shm/ring0, got %s", err.Region)
	}
	if err.Code != CodeUnenoughSpace {
		t.Errorf("Expected Code=CodeUnenoughSpace, got %s", err.Code)
	}
}

func TestComponentError(t *testing.T) {
	err := NewComponentError("Push", "r0", "ring", CodeFull, "ring at capacity")
	if err.Component != "ring" {
		t.Errorf("Expected Component=ring, got %s", err.Component)
	}
}

func TestWrapErrorPreservesCode(t *testing.T) {
	inner := NewComponentError("Alloc", "r0", "arena", CodeOutOfSize, "too large")
	wrapped := WrapError("Submit", inner)
	if wrapped.Code != CodeOutOfSize {
		t.Errorf("Expected wrapped Code=CodeOutOfSize, got %s", wrapped.Code)
	}
	if wrapped.Op != "Submit" {
		t.Errorf("Expected wrapped Op=Submit, got %s", wrapped.Op)
	}
}

func TestWrapErrorMapsErrno(t *testing.T) {
	wrapped := WrapError("Map", syscall.ENOSPC)
	if wrapped.Code != CodeOutOfSize {
		t.Errorf("Expected Code=CodeOutOfSize for ENOSPC, got %s", wrapped.Code)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Pop", CodeEmpty, "nothing to pop")
	if !IsCode(err, CodeEmpty) {
		t.Error("expected IsCode to match CodeEmpty")
	}
	if IsCode(err, CodeFull) {
		t.Error("expected IsCode not to match CodeFull")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("Map", CodeMapError, syscall.ENOENT)
	if !IsErrno(err, syscall.ENOENT) {
		t.Error("expected IsErrno to match ENOENT")
	}
}
