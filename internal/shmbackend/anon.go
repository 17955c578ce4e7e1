package shmbackend

// AnonHandle backs a region with an anonymous MAP_ANON|MAP_SHARED
// mapping: no file descriptor, no /dev/shm path, nothing for a second
// process to rendezvous on. It exists for tests and single-process
// loopback examples that want the real Region/Client/Server machinery
// without the privileges or fixtures a real shared object needs.
type AnonHandle struct {
	Name string
}

func (h *AnonHandle) open(int) (int, bool, error) { return -1, true, nil }
func (h *AnonHandle) cleanup() error               { return nil }
func (h *AnonHandle) String() string {
	if h.Name == "" {
		return "anon"
	}
	return "anon:" + h.Name
}
