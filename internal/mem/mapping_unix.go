//go:build unix && !linux

package mem

import "golang.org/x/sys/unix"

func protFlags(prot Protection) int {
	f := unix.PROT_NONE
	if prot&ProtRead != 0 {
		f |= unix.PROT_READ
	}
	if prot&ProtWrite != 0 {
		f |= unix.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		f |= unix.PROT_EXEC
	}
	return f
}

func osMapAnonymous(size uintptr, prot Protection) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), protFlags(prot), unix.MAP_PRIVATE|unix.MAP_ANON)
}

func osUnmap(b []byte) error { return unix.Munmap(b) }

func closeFD(fd int) { _ = unix.Close(fd) }

// Dual-view mappings need an anonymous shared-memory file; without
// memfd_create the runtime falls back to a single RWX view when the caller
// permits it.
func osMapDualView(name string, size uintptr) (*Mapping, *Mapping, error) {
	return nil, nil, ErrDualViewUnsupported
}
