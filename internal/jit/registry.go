package jit

import (
	"sync"

	"github.com/veyra-lang/veyra/internal/allocator"
)

// The growth callback handed to every heap space is one shared entry point,
// so a space exhausting its footprint must be routed back to the region
// that owns it. Regions register their spaces here at initialization; the
// callback looks the owner up by handle identity. The registry is the only
// state shared across regions and is mutated only while a region
// initializes or tears down.
var spaceRegistry = struct {
	mu      sync.RWMutex
	regions map[*allocator.Space]*Region
}{regions: make(map[*allocator.Space]*Region)}

func registerSpace(s *allocator.Space, r *Region) {
	spaceRegistry.mu.Lock()
	spaceRegistry.regions[s] = r
	spaceRegistry.mu.Unlock()
}

func unregisterRegion(r *Region) {
	spaceRegistry.mu.Lock()
	for s, owner := range spaceRegistry.regions {
		if owner == r {
			delete(spaceRegistry.regions, s)
		}
	}
	spaceRegistry.mu.Unlock()
}

func regionForSpace(s *allocator.Space) *Region {
	spaceRegistry.mu.RLock()
	r := spaceRegistry.regions[s]
	spaceRegistry.mu.RUnlock()
	return r
}

// moreCore is the shared growth entry point registered with every space.
// The JIT lock is already held here: growth only happens from inside an
// allocation call made under it.
func moreCore(s *allocator.Space, increment int) uintptr {
	r := regionForSpace(s)
	if r == nil || !r.OwnsSpace(s) {
		return allocator.GrowFailure
	}
	return r.MoreCore(s, increment)
}
