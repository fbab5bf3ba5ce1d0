// Package allocator provides heap spaces for the Veyra runtime: variable
// size block allocation carved out of a caller-supplied contiguous span.
// A Space starts with a small committed footprint and grows on demand
// through a caller-registered growth callback, never past its footprint
// limit or the span it was bound to.
//
// Spaces perform no internal locking. The owner serializes all calls; for
// the JIT that is the process-wide JIT lock.
package allocator

import (
	"fmt"
	"os"
)

// GrowFailure is the sentinel a growth callback returns when it cannot move
// the committed top by the requested increment. The space treats it as
// out-of-memory, not as a fatal condition.
const GrowFailure = ^uintptr(0)

// GrowthFunc commits (increment > 0) or releases (increment < 0) footprint
// at the top of the space's span. On success it returns the address of the
// start of the newly committed area for positive increments (the previous
// top, sbrk-style) and the new top for negative increments. On failure it
// returns GrowFailure.
type GrowthFunc func(s *Space, increment int) uintptr

// MinAlignment is the natural alignment of every allocation.
const MinAlignment = 16

// block is a free run of bytes, tracked out of band so the space never
// writes header metadata into memory it does not own the protection of.
type block struct {
	addr uintptr
	size uintptr
}

// Space is a growable heap bound to one contiguous span of memory.
type Space struct {
	name      string
	base      uintptr
	top       uintptr // next never-allocated address
	end       uintptr // committed footprint top
	limit     uintptr // footprint limit in bytes
	grow      GrowthFunc
	allocated map[uintptr]uintptr // block address -> usable size
	free      []block             // sorted by address, coalesced
	used      uintptr
}

// Option configures a Space.
type Option func(*Space)

// WithGrowth registers the growth callback invoked when an allocation does
// not fit the committed footprint.
func WithGrowth(fn GrowthFunc) Option {
	return func(s *Space) { s.grow = fn }
}

// NewSpace binds a heap to the span starting at base. initialFootprint
// bytes are considered committed; the footprint limit starts at the same
// value until SetFootprintLimit raises it.
func NewSpace(name string, base uintptr, initialFootprint uintptr, opts ...Option) (*Space, error) {
	if base == 0 {
		return nil, fmt.Errorf("allocator: space %q: nil base", name)
	}
	if base%uintptr(os.Getpagesize()) != 0 {
		return nil, fmt.Errorf("allocator: space %q: base %#x not page aligned", name, base)
	}
	s := &Space{
		name:      name,
		base:      base,
		top:       base,
		end:       base + initialFootprint,
		limit:     initialFootprint,
		allocated: make(map[uintptr]uintptr),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the space's diagnostic name.
func (s *Space) Name() string { return s.name }

// Base returns the first address of the bound span.
func (s *Space) Base() uintptr { return s.base }

// Footprint returns the committed bytes of the span.
func (s *Space) Footprint() uintptr { return s.end - s.base }

// FootprintLimit returns the current growth ceiling in bytes.
func (s *Space) FootprintLimit() uintptr { return s.limit }

// UsedBytes returns the bytes currently handed out to callers.
func (s *Space) UsedBytes() uintptr { return s.used }

// SetFootprintLimit moves the growth ceiling. Lowering it below the current
// footprint does not release memory; it only constrains future growth.
func (s *Space) SetFootprintLimit(limit uintptr) { s.limit = limit }

// Alloc allocates size bytes at natural alignment. Returns 0 when the
// request cannot be satisfied even after a growth attempt.
func (s *Space) Alloc(size uintptr) uintptr { return s.AllocAligned(size, MinAlignment) }

// AllocAligned allocates size bytes whose address is a multiple of align.
// align must be a power of two no smaller than MinAlignment.
func (s *Space) AllocAligned(size, align uintptr) uintptr {
	if size == 0 {
		return 0
	}
	if align < MinAlignment || align&(align-1) != 0 {
		panic(fmt.Sprintf("allocator: space %q: bad alignment %d", s.name, align))
	}
	rounded := alignUp(size, MinAlignment)

	// First fit from the free list.
	for i, b := range s.free {
		if b.addr%align != 0 || b.size < rounded {
			continue
		}
		if rest := b.size - rounded; rest > 0 {
			s.free[i] = block{addr: b.addr + rounded, size: rest}
		} else {
			s.free = append(s.free[:i], s.free[i+1:]...)
		}
		s.allocated[b.addr] = rounded
		s.used += rounded
		return b.addr
	}

	// Bump from the top of the span, growing the footprint if needed.
	addr := alignUp(s.top, align)
	need := addr + rounded
	if need > s.end && !s.extend(need-s.end) {
		return 0
	}
	if gap := addr - s.top; gap > 0 {
		s.insertFree(block{addr: s.top, size: gap})
	}
	s.top = addr + rounded
	s.allocated[addr] = rounded
	s.used += rounded
	return addr
}

// extend grows the committed footprint by at least need bytes, rounded to
// page granularity, within the footprint limit.
func (s *Space) extend(need uintptr) bool {
	if s.grow == nil {
		return false
	}
	increment := alignUp(need, uintptr(os.Getpagesize()))
	if s.Footprint()+increment > s.limit {
		return false
	}
	if s.grow(s, int(increment)) == GrowFailure {
		return false
	}
	s.end += increment
	return true
}

// Free returns a block previously obtained from this space. Freeing any
// other pointer is a caller bug and panics.
func (s *Space) Free(addr uintptr) {
	size, ok := s.allocated[addr]
	if !ok {
		panic(fmt.Sprintf("allocator: space %q: free of unowned pointer %#x", s.name, addr))
	}
	delete(s.allocated, addr)
	s.used -= size
	s.insertFree(block{addr: addr, size: size})
	s.reclaimTail()
}

// UsableSize returns the rounded size recorded for an allocated block, or 0
// for an address this space does not own.
func (s *Space) UsableSize(addr uintptr) uintptr { return s.allocated[addr] }

// Owns reports whether addr is a live allocation of this space.
func (s *Space) Owns(addr uintptr) bool {
	_, ok := s.allocated[addr]
	return ok
}

// Trim releases whole committed pages above the high-water mark back
// through the growth callback with a negative increment.
func (s *Space) Trim() uintptr {
	if s.grow == nil {
		return 0
	}
	newEnd := alignUp(s.top, uintptr(os.Getpagesize()))
	if newEnd >= s.end {
		return 0
	}
	release := s.end - newEnd
	if s.grow(s, -int(release)) == GrowFailure {
		return 0
	}
	s.end = newEnd
	return release
}

// insertFree adds b to the sorted free list, coalescing with its address
// neighbors.
func (s *Space) insertFree(b block) {
	i := 0
	for i < len(s.free) && s.free[i].addr < b.addr {
		i++
	}
	s.free = append(s.free, block{})
	copy(s.free[i+1:], s.free[i:])
	s.free[i] = b

	// Merge with successor, then predecessor.
	if i+1 < len(s.free) && s.free[i].addr+s.free[i].size == s.free[i+1].addr {
		s.free[i].size += s.free[i+1].size
		s.free = append(s.free[:i+1], s.free[i+2:]...)
	}
	if i > 0 && s.free[i-1].addr+s.free[i-1].size == s.free[i].addr {
		s.free[i-1].size += s.free[i].size
		s.free = append(s.free[:i], s.free[i+1:]...)
	}
}

// reclaimTail lowers the bump pointer when the topmost free block touches
// it, so the space can be trimmed and re-bumped with different alignment.
func (s *Space) reclaimTail() {
	for n := len(s.free); n > 0; n = len(s.free) {
		last := s.free[n-1]
		if last.addr+last.size != s.top {
			return
		}
		s.top = last.addr
		s.free = s.free[:n-1]
	}
}

func alignUp(n, align uintptr) uintptr { return (n + align - 1) &^ (align - 1) }
