// Package mem provides the low-level page mapping layer for the Veyra
// runtime. It reserves anonymous virtual memory ranges with requested
// protections and, on platforms that support it, dual-view mappings: two
// virtual ranges backed by the same physical frames, one writable and one
// executable, so that JIT code can be patched without ever holding a page
// that is simultaneously writable and executable.
package mem

import (
	"fmt"
	"os"
)

// Protection is the page protection bitmask requested from the OS.
type Protection int

const (
	ProtNone  Protection = 0
	ProtRead  Protection = 1 << 0
	ProtWrite Protection = 1 << 1
	ProtExec  Protection = 1 << 2

	ProtRW  = ProtRead | ProtWrite
	ProtRX  = ProtRead | ProtExec
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

// String returns the conventional rwx rendering, e.g. "rw-" or "r-x".
func (p Protection) String() string {
	buf := []byte("---")
	if p&ProtRead != 0 {
		buf[0] = 'r'
	}
	if p&ProtWrite != 0 {
		buf[1] = 'w'
	}
	if p&ProtExec != 0 {
		buf[2] = 'x'
	}
	return string(buf)
}

// Mapping is one reserved virtual address range. The backing slice keeps the
// range alive for the Go runtime and is retained until Release.
type Mapping struct {
	name string
	prot Protection
	mem  []byte
	fd   int // backing memory file for dual-view mappings, -1 otherwise
}

// IsValid reports whether the mapping holds a live reservation. It is safe
// to call on a nil Mapping.
func (m *Mapping) IsValid() bool { return m != nil && m.mem != nil }

// Name returns the diagnostic name the mapping was reserved under.
func (m *Mapping) Name() string { return m.name }

// Protection returns the protection the range was reserved with.
func (m *Mapping) Protection() Protection { return m.prot }

// Base returns the first address of the range, or 0 if invalid.
func (m *Mapping) Base() uintptr {
	if !m.IsValid() {
		return 0
	}
	return sliceBase(m.mem)
}

// Size returns the length of the range in bytes.
func (m *Mapping) Size() uintptr {
	if !m.IsValid() {
		return 0
	}
	return uintptr(len(m.mem))
}

// Bytes exposes the range as a byte slice. Writing through the slice of an
// executable-only mapping faults.
func (m *Mapping) Bytes() []byte {
	if !m.IsValid() {
		return nil
	}
	return m.mem
}

// HasAddress reports whether p lies within the mapped range.
func (m *Mapping) HasAddress(p uintptr) bool {
	if !m.IsValid() {
		return false
	}
	base := m.Base()
	return p >= base && p < base+m.Size()
}

// Release returns the range to the OS. The mapping is invalid afterwards.
func (m *Mapping) Release() error {
	if !m.IsValid() {
		return nil
	}
	err := osUnmap(m.mem)
	m.mem = nil
	if m.fd >= 0 {
		closeFD(m.fd)
		m.fd = -1
	}
	if err != nil {
		return fmt.Errorf("mem: release %q: %w", m.name, err)
	}
	return nil
}

// PageSize returns the OS page granularity.
func PageSize() uintptr { return uintptr(os.Getpagesize()) }

// RoundUpToPage rounds n up to a page multiple.
func RoundUpToPage(n uintptr) uintptr {
	ps := PageSize()
	return (n + ps - 1) &^ (ps - 1)
}

// RoundDownToPage rounds n down to a page multiple.
func RoundDownToPage(n uintptr) uintptr {
	return n &^ (PageSize() - 1)
}

// MapAnonymous reserves an anonymous private range of size bytes with the
// given protection. The name is kept for diagnostics only.
func MapAnonymous(name string, size uintptr, prot Protection) (*Mapping, error) {
	if size == 0 {
		return nil, fmt.Errorf("mem: map %q: zero size", name)
	}
	b, err := osMapAnonymous(RoundUpToPage(size), prot)
	if err != nil {
		return nil, fmt.Errorf("mem: map %q (%s, %d bytes): %w", name, prot, size, err)
	}
	return &Mapping{name: name, prot: prot, mem: b, fd: -1}, nil
}

// MapDualView reserves two virtual ranges over the same physical frames: a
// read-write view for patching code and a read-execute view for running it.
// Both views have the same size; an address in one view corresponds to the
// address at the same offset in the other. Returns ErrDualViewUnsupported
// on platforms without an anonymous shared-memory primitive.
func MapDualView(name string, size uintptr) (writable, executable *Mapping, err error) {
	if size == 0 {
		return nil, nil, fmt.Errorf("mem: dual view %q: zero size", name)
	}
	return osMapDualView(name, RoundUpToPage(size))
}

// ErrDualViewUnsupported is returned by MapDualView where the platform
// cannot back two mappings with the same anonymous physical frames.
var ErrDualViewUnsupported = fmt.Errorf("mem: dual-view mapping not supported on this platform")
