// Package jit implements the memory region backing the Veyra JIT code
// cache: a bounded block of process memory split into an executable code
// pool and a non-executable data pool (stack maps, profiling records),
// carved up on demand for the compiler.
//
// The region enforces write-xor-execute where the platform demands it by
// mapping the code pool twice: a writable view the compiler patches through
// and an executable view the program runs from, both backed by the same
// physical frames.
//
// Locking: the region performs no locking of its own. Every method that
// mutates or reads capacity state documents "requires the JIT lock": the
// single process-wide mutex owned by the CodeCache. The only exceptions are
// OwnsSpace and the growth-callback routing, which are identity lookups
// against pointers fixed at initialization.
package jit

import (
	"fmt"

	"github.com/veyra-lang/veyra/internal/allocator"
	"github.com/veyra-lang/veyra/internal/config"
	verrors "github.com/veyra-lang/veyra/internal/errors"
	"github.com/veyra-lang/veyra/internal/mem"
)

// CodeAlignment suits every target architecture for code cache allocations.
// Each compiled method gets its own set of cache lines so adjacent methods
// never share one.
const CodeAlignment = 64

// regionState tracks the one-way initialization sequence.
type regionState int

const (
	stateUninitialized regionState = iota
	stateSized                     // InitializeState done
	stateMapped                    // InitializeMappings done
	stateReady                     // InitializeSpaces done
)

// Region owns the mappings and heap spaces of one JIT memory region.
type Region struct {
	policy config.Policy
	state  regionState

	// Capacity bounds in bytes. initial <= current <= max.
	initialCapacity uintptr
	currentCapacity uintptr
	maxCapacity     uintptr

	// Committed footprint of each pool within its reservation.
	dataEnd uintptr
	execEnd uintptr

	// Live bytes handed out of each pool.
	usedMemoryForCode uintptr
	usedMemoryForData uintptr

	// dataPages is always read-write, never executable.
	dataPages *mem.Mapping

	// execPages is executable: read-execute in dual-view mode, RWX otherwise.
	execPages *mem.Mapping

	// nonExecPages is the writable alias of execPages; valid only in
	// dual-view mode.
	nonExecPages *mem.Mapping

	dataSpace *allocator.Space
	codeSpace *allocator.Space
}

// NewRegion returns an empty region governed by the given policy.
func NewRegion(policy config.Policy) *Region {
	return &Region{policy: policy}
}

// InitializeState records the capacity bounds. The pool ends are logical
// byte counts, so capacities need not be page multiples; only footprint
// growth happens at page granularity. Passing
// initialCapacity > maxCapacity is a programming error and panics.
//
// Requires the JIT lock.
func (r *Region) InitializeState(initialCapacity, maxCapacity uintptr) {
	if initialCapacity > maxCapacity {
		panic(verrors.InvalidCapacity(initialCapacity, maxCapacity))
	}
	r.initialCapacity = initialCapacity
	r.maxCapacity = maxCapacity
	r.currentCapacity = r.initialCapacity
	r.dataEnd = r.initialCapacity / uintptr(r.policy.CodeDataDivider)
	r.execEnd = r.initialCapacity - r.dataEnd
	r.state = stateSized
}

// InitializeMappings reserves the data and code ranges.
//
// The data range is always an anonymous read-write reservation. The code
// range depends on what the platform permits: when combined
// write+execute pages are allowed the region reserves one RWX view;
// otherwise it must satisfy W^X with a dual view, a writable alias and an
// executable alias of the same physical frames. A restricted child process
// (one barred from creating shared mappings) cannot hold a dual view, and
// a failed dual-view reservation has no fallback without RWX pages: either
// way the mapping error is reported and the caller must disable the JIT
// for the process. The chosen mode is fixed for the region's lifetime.
//
// Requires the JIT lock.
func (r *Region) InitializeMappings(rwxMemoryAllowed, isRestrictedChild bool) error {
	if r.state != stateSized {
		panic("jit: InitializeMappings before InitializeState")
	}

	capacity := r.maxCapacity
	dataCapacity := capacity / uintptr(r.policy.CodeDataDivider)
	execCapacity := capacity - dataCapacity

	dataName, execName := "data-code-cache", "jit-code-cache"
	if isRestrictedChild {
		dataName, execName = "sandbox-data-code-cache", "sandbox-jit-code-cache"
	}

	dataPages, err := mem.MapAnonymous(dataName, dataCapacity, mem.ProtRW)
	if err != nil {
		return verrors.MappingFailed(dataName, err)
	}

	var execPages, nonExecPages *mem.Mapping
	if execCapacity > 0 {
		if rwxMemoryAllowed {
			// Single view. Updates and execution share one RWX range.
			execPages, err = mem.MapAnonymous(execName, execCapacity, mem.ProtRWX)
			if err != nil {
				_ = dataPages.Release()
				return verrors.MappingFailed(execName, err)
			}
		} else {
			// W^X: writable alias for updates, fixed RX alias for
			// execution. A restricted child may not create the shared
			// mapping the alias pair needs, and without RWX pages there is
			// no single-view fallback.
			if isRestrictedChild {
				_ = dataPages.Release()
				return verrors.DualViewUnavailable(execName,
					fmt.Errorf("restricted child process cannot share code mappings"))
			}
			rw, rx, dualErr := mem.MapDualView(execName, execCapacity)
			if dualErr != nil {
				_ = dataPages.Release()
				return verrors.DualViewUnavailable(execName, dualErr)
			}
			nonExecPages, execPages = rw, rx
		}
	}

	r.dataPages = dataPages
	r.execPages = execPages
	r.nonExecPages = nonExecPages
	r.state = stateMapped
	return nil
}

// InitializeSpaces creates the data and code heap spaces over the initial
// footprint of their reservations and registers them for growth routing.
//
// Requires the JIT lock.
func (r *Region) InitializeSpaces() error {
	if r.state != stateMapped {
		panic("jit: InitializeSpaces before InitializeMappings")
	}

	dataSpace, err := allocator.NewSpace("data", r.dataPages.Base(), r.dataEnd,
		allocator.WithGrowth(moreCore))
	if err != nil {
		return err
	}
	r.dataSpace = dataSpace
	registerSpace(dataSpace, r)

	if codePages := r.updatableCodeMapping(); codePages.IsValid() {
		codeSpace, err := allocator.NewSpace("code", codePages.Base(), r.execEnd,
			allocator.WithGrowth(moreCore))
		if err != nil {
			unregisterRegion(r)
			return err
		}
		r.codeSpace = codeSpace
		registerSpace(codeSpace, r)
	}

	r.state = stateReady
	r.SetFootprintLimit(r.initialCapacity)
	return nil
}

// updatableCodeMapping returns the view code updates are written through:
// the writable alias in dual-view mode, the RWX range otherwise.
func (r *Region) updatableCodeMapping() *mem.Mapping {
	if r.nonExecPages.IsValid() {
		return r.nonExecPages
	}
	return r.execPages
}

// HasDualCodeMapping reports whether the writable and executable code views
// are distinct ranges.
func (r *Region) HasDualCodeMapping() bool { return r.nonExecPages.IsValid() }

// HasCodeMapping reports whether the region holds any executable range at
// all (false for data-only, profiling-style regions).
func (r *Region) HasCodeMapping() bool { return r.execPages.IsValid() }

// IsInDataSpace reports whether p lies in the data reservation.
func (r *Region) IsInDataSpace(p uintptr) bool { return r.dataPages.HasAddress(p) }

// IsInExecSpace reports whether p lies in the executable code view.
func (r *Region) IsInExecSpace(p uintptr) bool { return r.execPages.HasAddress(p) }

// SetFootprintLimit splits newFootprint by the policy divider and hands
// each pool's share to its space as the new growth ceiling. Growth stays
// inside the already-reserved virtual ranges regardless.
//
// Requires the JIT lock.
func (r *Region) SetFootprintLimit(newFootprint uintptr) {
	dataShare := newFootprint / uintptr(r.policy.CodeDataDivider)
	r.dataSpace.SetFootprintLimit(dataShare)
	if r.codeSpace != nil {
		r.codeSpace.SetFootprintLimit(newFootprint - dataShare)
	}
}

// IncreaseCodeCacheCapacity grows the current capacity by the configured
// policy: multiply by the growth factor below the linear-growth floor, add
// the linear step past it, clamped to the max capacity. Returns false with
// no side effects once the region is already at its max.
//
// Requires the JIT lock.
func (r *Region) IncreaseCodeCacheCapacity() bool {
	if r.currentCapacity == r.maxCapacity {
		return false
	}
	if r.currentCapacity < uintptr(r.policy.LinearGrowthFloor) {
		r.currentCapacity *= uintptr(r.policy.GrowthFactor)
	} else {
		r.currentCapacity += uintptr(r.policy.LinearGrowthStep)
	}
	if r.currentCapacity > r.maxCapacity {
		r.currentCapacity = r.maxCapacity
	}
	r.SetFootprintLimit(r.currentCapacity)
	return true
}

// MoreCore is the growth callback for both spaces. A positive increment
// commits footprint at the current pool end and returns the previous top;
// a negative increment shrinks symmetrically and returns the new top.
// Requests that would leave the reserved range return GrowFailure, which
// the space treats as out-of-memory.
//
// Called from space code with the JIT lock already held.
func (r *Region) MoreCore(s *allocator.Space, increment int) uintptr {
	switch s {
	case r.codeSpace:
		codePages := r.updatableCodeMapping()
		newEnd := int64(r.execEnd) + int64(increment)
		if newEnd < 0 || uintptr(newEnd) > codePages.Size() {
			return allocator.GrowFailure
		}
		if increment >= 0 {
			result := codePages.Base() + r.execEnd
			r.execEnd = uintptr(newEnd)
			return result
		}
		r.execEnd = uintptr(newEnd)
		return codePages.Base() + r.execEnd
	case r.dataSpace:
		newEnd := int64(r.dataEnd) + int64(increment)
		if newEnd < 0 || uintptr(newEnd) > r.dataPages.Size() {
			return allocator.GrowFailure
		}
		if increment >= 0 {
			result := r.dataPages.Base() + r.dataEnd
			r.dataEnd = uintptr(newEnd)
			return result
		}
		r.dataEnd = uintptr(newEnd)
		return r.dataPages.Base() + r.dataEnd
	default:
		return allocator.GrowFailure
	}
}

// OwnsSpace reports whether the handle belongs to this region's code or
// data space. Safe without the JIT lock: both pointers are fixed at
// initialization.
func (r *Region) OwnsSpace(s *allocator.Space) bool {
	return s == r.codeSpace || s == r.dataSpace
}

// AllocateCode carves a cache-line-aligned block of codeSize bytes out of
// the code pool and returns its *writable* address: the non-executable view
// in dual-view mode, the unique RWX view otherwise. Returns 0 when the pool
// cannot satisfy the request even after its own growth attempt; the caller
// may then IncreaseCodeCacheCapacity and retry, or skip the compilation.
//
// After emitting machine code through the returned address, and before any
// thread runs it through the executable view, the caller must flush the
// instruction cache for the executable range.
//
// Requires the JIT lock.
func (r *Region) AllocateCode(codeSize uintptr) uintptr {
	r.checkReady()
	if r.codeSpace == nil {
		panic("jit: AllocateCode on a region without a code pool")
	}
	if codeSize == 0 {
		panic(verrors.InvalidSize(codeSize, "AllocateCode"))
	}
	// Round the size itself to the alignment so adjacent methods never
	// share a cache line even at their tail.
	rounded := (codeSize + CodeAlignment - 1) &^ (CodeAlignment - 1)
	result := r.codeSpace.AllocAligned(rounded, CodeAlignment)
	if result == 0 {
		return 0
	}
	r.usedMemoryForCode += r.codeSpace.UsableSize(result)
	return result
}

// FreeCode returns a code block by its writable address. Freeing an address
// the code pool does not own is a caller bug and panics.
//
// Requires the JIT lock.
func (r *Region) FreeCode(code uintptr) {
	r.checkReady()
	if !r.updatableCodeMapping().HasAddress(code) {
		panic(verrors.PointerOutOfRange(code, "writable code"))
	}
	r.usedMemoryForCode -= r.codeSpace.UsableSize(code)
	r.codeSpace.Free(code)
}

// AllocateData carves dataSize bytes out of the data pool at natural
// alignment. Returns 0 on exhaustion, recoverable exactly as for
// AllocateCode.
//
// Requires the JIT lock.
func (r *Region) AllocateData(dataSize uintptr) uintptr {
	r.checkReady()
	if dataSize == 0 {
		panic(verrors.InvalidSize(dataSize, "AllocateData"))
	}
	result := r.dataSpace.Alloc(dataSize)
	if result == 0 {
		return 0
	}
	r.usedMemoryForData += r.dataSpace.UsableSize(result)
	return result
}

// FreeData returns a data block. Freeing an address the data pool does not
// own is a caller bug and panics.
//
// Requires the JIT lock.
func (r *Region) FreeData(data uintptr) {
	r.checkReady()
	if !r.dataPages.HasAddress(data) {
		panic(verrors.PointerOutOfRange(data, "data"))
	}
	r.usedMemoryForData -= r.dataSpace.UsableSize(data)
	r.dataSpace.Free(data)
}

// GetExecutableAddress translates a writable-view address to its
// executable-view counterpart. Identity in single-view mode. Translating an
// address outside the source view is a caller bug and panics.
func (r *Region) GetExecutableAddress(p uintptr) uintptr {
	return r.translateAddress(p, r.nonExecPages, r.execPages)
}

// GetNonExecutableAddress is the inverse of GetExecutableAddress.
func (r *Region) GetNonExecutableAddress(p uintptr) uintptr {
	return r.translateAddress(p, r.execPages, r.nonExecPages)
}

// translateAddress relates the two views by the constant offset between
// their base addresses.
func (r *Region) translateAddress(p uintptr, src, dst *mem.Mapping) uintptr {
	if !r.HasDualCodeMapping() {
		return p
	}
	if !src.HasAddress(p) {
		panic(verrors.PointerOutOfRange(p, src.Name()))
	}
	return p - src.Base() + dst.Base()
}

// CurrentCapacity returns the capacity the region has grown to so far.
// Requires the JIT lock.
func (r *Region) CurrentCapacity() uintptr { return r.currentCapacity }

// MaxCapacity returns the hard capacity ceiling.
// Requires the JIT lock.
func (r *Region) MaxCapacity() uintptr { return r.maxCapacity }

// UsedMemoryForCode returns the live bytes allocated out of the code pool.
// Requires the JIT lock.
func (r *Region) UsedMemoryForCode() uintptr { return r.usedMemoryForCode }

// UsedMemoryForData returns the live bytes allocated out of the data pool.
// Requires the JIT lock.
func (r *Region) UsedMemoryForData() uintptr { return r.usedMemoryForData }

// DataFootprint returns the committed bytes of the data pool.
// Requires the JIT lock.
func (r *Region) DataFootprint() uintptr { return r.dataEnd }

// ExecFootprint returns the committed bytes of the code pool.
// Requires the JIT lock.
func (r *Region) ExecFootprint() uintptr { return r.execEnd }

// Release unmaps all reservations and unregisters the region. The region is
// unusable afterwards; regions live for the runtime's lifetime, so this
// runs at process teardown and in tests.
//
// Requires the JIT lock.
func (r *Region) Release() error {
	unregisterRegion(r)
	var first error
	for _, m := range []*mem.Mapping{r.nonExecPages, r.execPages, r.dataPages} {
		if err := m.Release(); err != nil && first == nil {
			first = err
		}
	}
	r.dataSpace, r.codeSpace = nil, nil
	r.dataPages, r.execPages, r.nonExecPages = nil, nil, nil
	r.state = stateUninitialized
	return first
}

func (r *Region) checkReady() {
	if r.state != stateReady {
		panic(fmt.Sprintf("jit: region operation in state %d, want ready", r.state))
	}
}
