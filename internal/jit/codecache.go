package jit

import (
	"fmt"
	"sync"

	"github.com/veyra-lang/veyra/internal/config"
	"github.com/veyra-lang/veyra/internal/mem"
)

// CompiledMethod records where a committed method lives. ExecAddr is the
// address the interpreter branches to; the writable counterpart is derived
// on demand, never stored, so the two views cannot drift.
type CompiledMethod struct {
	Name     string
	ExecAddr uintptr
	CodeSize uintptr
	DataAddr uintptr // stack map block, 0 if none
	DataSize uintptr
}

// CodeCache is the compiler-facing front of a Region. It owns the
// process-wide JIT lock every region operation requires, keeps the table of
// committed methods, and implements the grow-and-retry allocation loop.
// What to evict, and when, stays with the caller.
type CodeCache struct {
	lock    sync.Mutex // the JIT lock
	region  *Region
	methods map[string]*CompiledMethod
	metrics CacheMetrics
	policy  config.Policy
}

// NewCodeCache builds a region under the given policy and runs its full
// initialization sequence. A mapping error means the process must run
// without a JIT; the caller decides how loudly to say so.
func NewCodeCache(policy config.Policy, rwxMemoryAllowed, isRestrictedChild bool) (*CodeCache, error) {
	r := NewRegion(policy)
	r.InitializeState(uintptr(policy.InitialCapacity), uintptr(policy.MaxCapacity))
	if err := r.InitializeMappings(rwxMemoryAllowed, isRestrictedChild); err != nil {
		return nil, err
	}
	if err := r.InitializeSpaces(); err != nil {
		return nil, err
	}
	return &CodeCache{
		region:  r,
		methods: make(map[string]*CompiledMethod),
		policy:  policy,
	}, nil
}

// Region exposes the underlying region for tests and diagnostics. Callers
// must hold the JIT lock (Lock/Unlock) around any use of it.
func (c *CodeCache) Region() *Region { return c.region }

// Lock acquires the process-wide JIT lock.
func (c *CodeCache) Lock() { c.lock.Lock() }

// Unlock releases the process-wide JIT lock.
func (c *CodeCache) Unlock() { c.lock.Unlock() }

// allocateWithRetry runs one allocation attempt plus the capacity growth
// loop: on exhaustion, grow the current capacity and retry until either the
// allocation fits or the region is at its ceiling.
//
// Requires the JIT lock.
func (c *CodeCache) allocateWithRetry(alloc func() uintptr) uintptr {
	for {
		if p := alloc(); p != 0 {
			return p
		}
		if !c.region.IncreaseCodeCacheCapacity() {
			return 0
		}
		c.metrics.capacityGrows.Add(1)
		c.metrics.commitRetries.Add(1)
	}
}

// Commit installs a compiled method: allocates code (and optionally stack
// map) space, writes the machine code through the writable view, flushes
// the instruction cache for the executable range, and publishes the entry.
// Returns the executable address.
//
// A nil error with a zero stackMap simply commits no data block. An
// exhaustion that survives the growth loop is returned as an error the
// caller may treat as "skip this method" or as a cue to evict.
func (c *CodeCache) Commit(name string, code []byte, stackMap []byte) (uintptr, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("jit: commit %q: empty code", name)
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	if old, ok := c.methods[name]; ok {
		c.removeLocked(old)
	}

	writable := c.allocateWithRetry(func() uintptr {
		return c.region.AllocateCode(uintptr(len(code)))
	})
	if writable == 0 {
		c.metrics.commitFails.Add(1)
		return 0, fmt.Errorf("jit: commit %q: code cache out of memory (%d bytes, capacity %d/%d)",
			name, len(code), c.region.CurrentCapacity(), c.region.MaxCapacity())
	}

	var dataAddr uintptr
	if len(stackMap) > 0 {
		dataAddr = c.allocateWithRetry(func() uintptr {
			return c.region.AllocateData(uintptr(len(stackMap)))
		})
		if dataAddr == 0 {
			c.region.FreeCode(writable)
			c.metrics.commitFails.Add(1)
			return 0, fmt.Errorf("jit: commit %q: data pool out of memory (%d bytes)", name, len(stackMap))
		}
		copy(mem.SliceAt(dataAddr, uintptr(len(stackMap))), stackMap)
	}

	// Emit through the writable view, then synchronize the instruction
	// fetch path before anything branches to the executable view.
	copy(mem.SliceAt(writable, uintptr(len(code))), code)
	execAddr := c.region.GetExecutableAddress(writable)
	mem.FlushInstructionCache(execAddr, uintptr(len(code)))

	m := &CompiledMethod{
		Name:     name,
		ExecAddr: execAddr,
		CodeSize: uintptr(len(code)),
		DataAddr: dataAddr,
		DataSize: uintptr(len(stackMap)),
	}
	c.methods[name] = m
	c.metrics.commits.Add(1)
	return execAddr, nil
}

// Lookup returns the executable entry point of a committed method.
func (c *CodeCache) Lookup(name string) (uintptr, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.methods[name]
	if !ok {
		return 0, false
	}
	return m.ExecAddr, true
}

// ContainsPC reports whether an address belongs to committed code, as a
// crash handler would ask.
func (c *CodeCache) ContainsPC(pc uintptr) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.region.IsInExecSpace(pc)
}

// Evict removes a method and returns its memory to the pools. Which
// methods to evict, and when, is the caller's policy.
func (c *CodeCache) Evict(name string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.methods[name]
	if !ok {
		return false
	}
	c.removeLocked(m)
	c.metrics.evictions.Add(1)
	return true
}

func (c *CodeCache) removeLocked(m *CompiledMethod) {
	c.region.FreeCode(c.region.GetNonExecutableAddress(m.ExecAddr))
	if m.DataAddr != 0 {
		c.region.FreeData(m.DataAddr)
	}
	delete(c.methods, m.Name)
}

// MethodCount returns the number of committed methods.
func (c *CodeCache) MethodCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.methods)
}

// Snapshot captures the region and metrics state for diagnostics.
func (c *CodeCache) Snapshot() RegionSnapshot {
	c.lock.Lock()
	defer c.lock.Unlock()
	return RegionSnapshot{
		DualMapping:     c.region.HasDualCodeMapping(),
		InitialCapacity: c.region.initialCapacity,
		CurrentCapacity: c.region.CurrentCapacity(),
		MaxCapacity:     c.region.MaxCapacity(),
		DataFootprint:   c.region.DataFootprint(),
		ExecFootprint:   c.region.ExecFootprint(),
		UsedForCode:     c.region.UsedMemoryForCode(),
		UsedForData:     c.region.UsedMemoryForData(),
		Methods:         len(c.methods),
		Metrics:         c.metrics.Snapshot(),
	}
}

// Policy returns the policy the cache was built with.
func (c *CodeCache) Policy() config.Policy { return c.policy }

// Close releases the region. Only for teardown and tests.
func (c *CodeCache) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.methods = make(map[string]*CompiledMethod)
	return c.region.Release()
}
