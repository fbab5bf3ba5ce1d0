package jit

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/veyra-lang/veyra/internal/config"
	"github.com/veyra-lang/veyra/internal/mem"
)

func newTestCache(t *testing.T, rwxAllowed bool) *CodeCache {
	t.Helper()
	policy := config.Default()
	policy.InitialCapacity = 64 * config.KB
	policy.MaxCapacity = 1 * config.MB
	cache, err := NewCodeCache(policy, rwxAllowed, false)
	if err != nil {
		t.Fatalf("NewCodeCache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCodeCacheCommit(t *testing.T) {
	cache := newTestCache(t, false)

	code := []byte{0x55, 0x48, 0x89, 0xe5, 0x31, 0xc0, 0x5d, 0xc3}
	stackMap := []byte{1, 2, 3, 4}

	exec, err := cache.Commit("pkg.Add", code, stackMap)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if exec == 0 {
		t.Fatal("Commit returned a zero entry point")
	}

	t.Run("ExecutableViewSeesCode", func(t *testing.T) {
		if got := mem.SliceAt(exec, uintptr(len(code))); !bytes.Equal(got, code) {
			t.Errorf("executable view reads %x, want %x", got, code)
		}
	})

	t.Run("Lookup", func(t *testing.T) {
		got, ok := cache.Lookup("pkg.Add")
		if !ok || got != exec {
			t.Errorf("Lookup = %#x,%v, want %#x,true", got, ok, exec)
		}
		if _, ok := cache.Lookup("pkg.Missing"); ok {
			t.Error("Lookup of an uncommitted method succeeded")
		}
	})

	t.Run("ContainsPC", func(t *testing.T) {
		if !cache.ContainsPC(exec) {
			t.Error("committed entry point not recognized")
		}
		if cache.ContainsPC(0xdead000) {
			t.Error("foreign pc recognized")
		}
	})

	t.Run("RecommitReplaces", func(t *testing.T) {
		newCode := []byte{0x90, 0x90, 0xc3}
		exec2, err := cache.Commit("pkg.Add", newCode, nil)
		if err != nil {
			t.Fatalf("recommit: %v", err)
		}
		got, _ := cache.Lookup("pkg.Add")
		if got != exec2 {
			t.Errorf("Lookup after recommit = %#x, want %#x", got, exec2)
		}
		if cache.MethodCount() != 1 {
			t.Errorf("MethodCount = %d, want 1", cache.MethodCount())
		}
	})

	t.Run("Evict", func(t *testing.T) {
		if !cache.Evict("pkg.Add") {
			t.Fatal("Evict of a committed method failed")
		}
		if cache.Evict("pkg.Add") {
			t.Error("Evict of an evicted method succeeded")
		}
		if _, ok := cache.Lookup("pkg.Add"); ok {
			t.Error("evicted method still resolvable")
		}
		snap := cache.Snapshot()
		if snap.UsedForCode != 0 || snap.UsedForData != 0 {
			t.Errorf("used bytes after eviction: code %d, data %d", snap.UsedForCode, snap.UsedForData)
		}
	})
}

func TestCodeCacheGrowth(t *testing.T) {
	cache := newTestCache(t, false)

	// Commit until well past the initial capacity; the grow-and-retry loop
	// must keep capacity within the configured maximum throughout.
	code := make([]byte, 4096)
	for i := range code {
		code[i] = byte(i)
	}
	committed := 0
	for i := 0; i < 64; i++ {
		if _, err := cache.Commit(fmt.Sprintf("m%03d", i), code, nil); err != nil {
			break
		}
		committed++
		snap := cache.Snapshot()
		if snap.CurrentCapacity > snap.MaxCapacity {
			t.Fatalf("capacity %d exceeds max %d", snap.CurrentCapacity, snap.MaxCapacity)
		}
	}
	if committed < 32 {
		t.Fatalf("only %d methods fit before exhaustion", committed)
	}

	snap := cache.Snapshot()
	if snap.Metrics.CapacityGrows == 0 {
		t.Error("no capacity growth recorded for an overflowing workload")
	}
	if snap.Metrics.Commits != uint64(committed) {
		t.Errorf("commit counter = %d, want %d", snap.Metrics.Commits, committed)
	}
}

func TestCodeCacheExhaustion(t *testing.T) {
	policy := config.Default()
	policy.InitialCapacity = 16 * config.KB
	policy.MaxCapacity = 32 * config.KB
	cache, err := NewCodeCache(policy, false, false)
	if err != nil {
		t.Fatalf("NewCodeCache: %v", err)
	}
	defer cache.Close()

	// A method bigger than the whole code pool can never be committed.
	huge := make([]byte, 64*config.KB)
	if _, err := cache.Commit("huge", huge, nil); err == nil {
		t.Error("oversized commit succeeded")
	}
	snap := cache.Snapshot()
	if snap.Metrics.CommitFails == 0 {
		t.Error("failed commit not counted")
	}
	if snap.UsedForCode != 0 {
		t.Errorf("failed commit leaked %d code bytes", snap.UsedForCode)
	}
}

func TestCodeCacheSnapshot(t *testing.T) {
	cache := newTestCache(t, false)
	snap := cache.Snapshot()
	if !snap.DualMapping {
		t.Error("snapshot does not report dual mapping")
	}
	if snap.CurrentCapacity != uintptr(cache.Policy().InitialCapacity) {
		t.Errorf("CurrentCapacity = %d, want %d", snap.CurrentCapacity, cache.Policy().InitialCapacity)
	}
	if snap.Methods != 0 {
		t.Errorf("Methods = %d for an empty cache", snap.Methods)
	}
}
