//go:build !amd64

package mem

import "sync/atomic"

var icacheBarrier uint32

// FlushInstructionCache makes freshly written machine code visible to the
// instruction fetch path. On architectures with incoherent instruction
// caches the code emitter must additionally issue the hardware maintenance
// sequence (IC IVAU/ISB on arm64) from its generated prologue; here we only
// order the preceding stores.
func FlushInstructionCache(addr uintptr, size uintptr) {
	atomic.AddUint32(&icacheBarrier, 1)
}
