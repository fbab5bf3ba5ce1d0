package jit

import "sync/atomic"

// CacheMetrics counts code cache activity. Counters are atomic so the
// diagnostics server can read them without taking the JIT lock.
type CacheMetrics struct {
	commits       atomic.Uint64
	commitRetries atomic.Uint64
	commitFails   atomic.Uint64
	evictions     atomic.Uint64
	capacityGrows atomic.Uint64
}

// MetricsSnapshot is the JSON-able view of CacheMetrics.
type MetricsSnapshot struct {
	Commits       uint64 `json:"commits"`
	CommitRetries uint64 `json:"commit_retries"`
	CommitFails   uint64 `json:"commit_fails"`
	Evictions     uint64 `json:"evictions"`
	CapacityGrows uint64 `json:"capacity_grows"`
}

// Snapshot returns a consistent-enough copy for diagnostics.
func (m *CacheMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Commits:       m.commits.Load(),
		CommitRetries: m.commitRetries.Load(),
		CommitFails:   m.commitFails.Load(),
		Evictions:     m.evictions.Load(),
		CapacityGrows: m.capacityGrows.Load(),
	}
}

// RegionSnapshot is the JSON-able view of a region's capacity state, taken
// under the JIT lock.
type RegionSnapshot struct {
	DualMapping     bool    `json:"dual_mapping"`
	InitialCapacity uintptr `json:"initial_capacity"`
	CurrentCapacity uintptr `json:"current_capacity"`
	MaxCapacity     uintptr `json:"max_capacity"`
	DataFootprint   uintptr `json:"data_footprint"`
	ExecFootprint   uintptr `json:"exec_footprint"`
	UsedForCode     uintptr `json:"used_for_code"`
	UsedForData     uintptr `json:"used_for_data"`
	Methods         int     `json:"methods"`

	Metrics MetricsSnapshot `json:"metrics"`
}
