package allocator

import (
	"os"
	"testing"
	"unsafe"
)

// testSpan is a page-aligned span carved out of a Go heap slice, standing
// in for a memory mapping.
type testSpan struct {
	buf  []byte
	base uintptr
	size uintptr
}

func newTestSpan(t *testing.T, size uintptr) *testSpan {
	t.Helper()
	ps := uintptr(os.Getpagesize())
	buf := make([]byte, size+ps)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	base := (raw + ps - 1) &^ (ps - 1)
	return &testSpan{buf: buf, base: base, size: size}
}

// growth emulates a region's more-core callback over the span: positive
// increments commit up to the span size, negative increments shrink.
func (ts *testSpan) growth(s *Space, increment int) uintptr {
	newFootprint := int64(s.Footprint()) + int64(increment)
	if newFootprint < 0 || uintptr(newFootprint) > ts.size {
		return GrowFailure
	}
	if increment >= 0 {
		return s.Base() + s.Footprint()
	}
	return s.Base() + uintptr(newFootprint)
}

func TestSpaceAllocation(t *testing.T) {
	ps := uintptr(os.Getpagesize())
	span := newTestSpan(t, 16*ps)

	s, err := NewSpace("test", span.base, 2*ps, WithGrowth(span.growth))
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}

	t.Run("BasicAllocation", func(t *testing.T) {
		p := s.Alloc(100)
		if p == 0 {
			t.Fatal("Alloc(100) failed")
		}
		if p%MinAlignment != 0 {
			t.Errorf("address %#x not %d-byte aligned", p, MinAlignment)
		}
		// Write through the block to ensure it is inside the span.
		data := unsafe.Slice((*byte)(unsafe.Pointer(p)), 100)
		for i := range data {
			data[i] = byte(i)
		}
		for i := range data {
			if data[i] != byte(i) {
				t.Fatalf("data corruption at %d", i)
			}
		}
		if got := s.UsableSize(p); got != 112 {
			t.Errorf("UsableSize = %d, want 112 (100 rounded to 16)", got)
		}
		if s.UsedBytes() != 112 {
			t.Errorf("UsedBytes = %d, want 112", s.UsedBytes())
		}
		s.Free(p)
		if s.UsedBytes() != 0 {
			t.Errorf("UsedBytes after free = %d, want 0", s.UsedBytes())
		}
	})

	t.Run("AlignedAllocation", func(t *testing.T) {
		p := s.AllocAligned(64, 64)
		if p == 0 {
			t.Fatal("AllocAligned failed")
		}
		if p%64 != 0 {
			t.Errorf("address %#x not 64-byte aligned", p)
		}
		s.Free(p)
	})

	t.Run("ZeroAllocation", func(t *testing.T) {
		if p := s.Alloc(0); p != 0 {
			t.Errorf("Alloc(0) = %#x, want 0", p)
		}
	})

	t.Run("FreeListReuse", func(t *testing.T) {
		a := s.Alloc(256)
		b := s.Alloc(256)
		if a == 0 || b == 0 {
			t.Fatal("setup allocations failed")
		}
		s.Free(a)
		c := s.Alloc(256)
		if c != a {
			t.Errorf("freed block not reused: got %#x, want %#x", c, a)
		}
		s.Free(b)
		s.Free(c)
	})

	t.Run("CoalescedNeighbors", func(t *testing.T) {
		a := s.Alloc(128)
		b := s.Alloc(128)
		big := s.Alloc(16) // keep the tail busy so frees stay on the list
		s.Free(a)
		s.Free(b)
		c := s.Alloc(256)
		if c != a {
			t.Errorf("coalesced block not reused: got %#x, want %#x", c, a)
		}
		s.Free(c)
		s.Free(big)
	})
}

func TestSpaceFootprint(t *testing.T) {
	ps := uintptr(os.Getpagesize())
	span := newTestSpan(t, 8*ps)

	s, err := NewSpace("footprint", span.base, ps, WithGrowth(span.growth))
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}

	t.Run("LimitBlocksGrowth", func(t *testing.T) {
		// One page committed, limit one page: a two-page request must fail
		// without side effects.
		if p := s.Alloc(2 * ps); p != 0 {
			t.Fatalf("allocation beyond footprint limit succeeded: %#x", p)
		}
		if s.Footprint() != ps {
			t.Errorf("failed growth changed footprint to %d", s.Footprint())
		}
	})

	t.Run("GrowthWithinLimit", func(t *testing.T) {
		s.SetFootprintLimit(4 * ps)
		p := s.Alloc(2 * ps)
		if p == 0 {
			t.Fatal("allocation within raised limit failed")
		}
		if s.Footprint() < 2*ps {
			t.Errorf("footprint %d after two-page allocation", s.Footprint())
		}
		s.Free(p)
	})

	t.Run("TrimReleasesSlack", func(t *testing.T) {
		before := s.Footprint()
		released := s.Trim()
		if released == 0 {
			t.Skip("no slack to trim")
		}
		if s.Footprint() != before-released {
			t.Errorf("footprint %d after trimming %d from %d", s.Footprint(), released, before)
		}
	})

	t.Run("NeverPastSpan", func(t *testing.T) {
		s.SetFootprintLimit(1 << 30)
		if p := s.Alloc(16 * ps); p != 0 {
			t.Errorf("allocation past the bound span succeeded: %#x", p)
		}
	})
}

func TestSpaceFreeValidation(t *testing.T) {
	ps := uintptr(os.Getpagesize())
	span := newTestSpan(t, 4*ps)
	s, err := NewSpace("validate", span.base, ps, WithGrowth(span.growth))
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}

	t.Run("UnownedPointerPanics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("free of unowned pointer did not panic")
			}
		}()
		s.Free(span.base + 64)
	})

	t.Run("DoubleFreePanics", func(t *testing.T) {
		p := s.Alloc(32)
		s.Free(p)
		defer func() {
			if recover() == nil {
				t.Error("double free did not panic")
			}
		}()
		s.Free(p)
	})

	t.Run("UsableSizeUnknown", func(t *testing.T) {
		if got := s.UsableSize(span.base + 128); got != 0 {
			t.Errorf("UsableSize of unowned pointer = %d, want 0", got)
		}
	})
}

func TestSpaceWithoutGrowth(t *testing.T) {
	ps := uintptr(os.Getpagesize())
	span := newTestSpan(t, 2*ps)
	s, err := NewSpace("static", span.base, ps)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	if p := s.Alloc(2 * ps); p != 0 {
		t.Errorf("growth without callback succeeded: %#x", p)
	}
	if p := s.Alloc(64); p == 0 {
		t.Error("allocation within initial footprint failed")
	}
}
