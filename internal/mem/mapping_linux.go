//go:build linux

package mem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

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
	return unix.Mmap(-1, 0, int(size), protFlags(prot), unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

func osUnmap(b []byte) error { return unix.Munmap(b) }

func closeFD(fd int) { _ = unix.Close(fd) }

// osMapDualView backs the code cache with a memory file descriptor and maps
// it twice: a shared read-write view for code updates and a shared
// read-execute view for running the code. memfd_create may fail on old
// kernels, in which case the caller decides whether a single RWX view is an
// acceptable fallback.
func osMapDualView(name string, size uintptr) (*Mapping, *Mapping, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("mem: dual view %q: memfd_create: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		closeFD(fd)
		return nil, nil, fmt.Errorf("mem: dual view %q: ftruncate to %d: %w", name, size, err)
	}

	rw, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		closeFD(fd)
		return nil, nil, fmt.Errorf("mem: dual view %q: map writable view: %w", name, err)
	}
	rx, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_EXEC, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Munmap(rw)
		closeFD(fd)
		return nil, nil, fmt.Errorf("mem: dual view %q: map executable view: %w", name, err)
	}

	writable := &Mapping{name: name + "-rw", prot: ProtRW, mem: rw, fd: fd}
	executable := &Mapping{name: name, prot: ProtRX, mem: rx, fd: -1}
	return writable, executable, nil
}
