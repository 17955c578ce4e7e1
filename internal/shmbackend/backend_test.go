package shmbackend

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemFDRoundTrip(t *testing.T) {
	h := &MemFDHandle{Name: "shmuring-test"}
	m, err := Map(h, 4096, false)
	require.NoError(t, err)
	require.True(t, m.Created)
	require.Equal(t, 4096, m.Size)

	data := bytesFromPtr(m.Base, m.Size)
	data[0] = 0xAB
	require.Equal(t, byte(0xAB), data[0])

	require.NoError(t, Unmap(m, true))
}

func TestShmPathSecondAttacherDoesNotRecreate(t *testing.T) {
	path := "/dev/shm/shmuring-backend-test"
	first := &ShmPathHandle{Path: path, Initial: true}
	m1, err := Map(first, 4096, false)
	require.NoError(t, err)
	require.True(t, m1.Created)

	second := &ShmPathHandle{Path: path}
	m2, err := Map(second, 4096, false)
	require.NoError(t, err)
	require.False(t, m2.Created)

	require.NoError(t, Unmap(m2, false))
	require.NoError(t, Unmap(m1, true))
}

func TestAnonHandleRoundTrip(t *testing.T) {
	h := &AnonHandle{Name: "shmuring-anon-test"}
	m, err := Map(h, 4096, false)
	require.NoError(t, err)
	require.True(t, m.Created)
	require.Equal(t, "anon:shmuring-anon-test", h.String())

	data := bytesFromPtr(m.Base, m.Size)
	data[0] = 0xCD
	require.Equal(t, byte(0xCD), data[0])

	require.NoError(t, Unmap(m, true))
}

func TestAdoptedFDHandleNeverCleansUp(t *testing.T) {
	h := &MemFDHandle{Name: "shmuring-adopt-source"}
	m, err := Map(h, 4096, false)
	require.NoError(t, err)

	adopted := &AdoptedFDHandle{FD: m.fd}
	require.Equal(t, "fd:"+strconv.Itoa(m.fd), adopted.String())
	require.NoError(t, adopted.cleanup())

	require.NoError(t, Unmap(m, true))
}
