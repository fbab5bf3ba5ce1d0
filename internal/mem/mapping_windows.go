//go:build windows

package mem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func protFlags(prot Protection) uint32 {
	switch prot {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtRW:
		return windows.PAGE_READWRITE
	case ProtRX:
		return windows.PAGE_EXECUTE_READ
	case ProtRWX:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}

func osMapAnonymous(size uintptr, prot Protection) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, protFlags(prot))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func osUnmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&b[0])), 0, windows.MEM_RELEASE)
}

func closeFD(fd int) {}

// Windows would need a pagefile-backed section mapped twice (CreateFileMapping
// + two MapViewOfFile calls); the runtime currently runs single-view there.
func osMapDualView(name string, size uintptr) (*Mapping, *Mapping, error) {
	return nil, nil, ErrDualViewUnsupported
}
