package mem

import "unsafe"

func sliceBase(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// SliceAt exposes size bytes starting at addr as a byte slice. The caller
// must guarantee addr points into a live mapping of at least size bytes.
func SliceAt(addr uintptr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
