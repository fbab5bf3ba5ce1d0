package mem

import (
	"bytes"
	"testing"
)

func TestMapAnonymous(t *testing.T) {
	t.Run("ReadWrite", func(t *testing.T) {
		m, err := MapAnonymous("test-rw", 2*PageSize(), ProtRW)
		if err != nil {
			t.Fatalf("MapAnonymous: %v", err)
		}
		defer m.Release()

		if !m.IsValid() {
			t.Fatal("mapping not valid")
		}
		if m.Size() != 2*PageSize() {
			t.Errorf("Size = %d, want %d", m.Size(), 2*PageSize())
		}
		if m.Base()%PageSize() != 0 {
			t.Errorf("base %#x not page aligned", m.Base())
		}

		b := m.Bytes()
		for i := range b {
			b[i] = byte(i % 251)
		}
		for i := range b {
			if b[i] != byte(i%251) {
				t.Fatalf("data corruption at offset %d", i)
			}
		}
	})

	t.Run("SizeRoundsUpToPage", func(t *testing.T) {
		m, err := MapAnonymous("test-round", 100, ProtRW)
		if err != nil {
			t.Fatalf("MapAnonymous: %v", err)
		}
		defer m.Release()
		if m.Size() != PageSize() {
			t.Errorf("Size = %d, want one page", m.Size())
		}
	})

	t.Run("HasAddress", func(t *testing.T) {
		m, err := MapAnonymous("test-addr", PageSize(), ProtRW)
		if err != nil {
			t.Fatalf("MapAnonymous: %v", err)
		}
		defer m.Release()

		if !m.HasAddress(m.Base()) {
			t.Error("base address not contained")
		}
		if !m.HasAddress(m.Base() + m.Size() - 1) {
			t.Error("last address not contained")
		}
		if m.HasAddress(m.Base() + m.Size()) {
			t.Error("one-past-end address contained")
		}
		if m.HasAddress(m.Base() - 1) {
			t.Error("address before base contained")
		}
	})

	t.Run("ZeroSize", func(t *testing.T) {
		if _, err := MapAnonymous("test-zero", 0, ProtRW); err == nil {
			t.Error("zero-size mapping succeeded")
		}
	})

	t.Run("ReleaseInvalidates", func(t *testing.T) {
		m, err := MapAnonymous("test-release", PageSize(), ProtRW)
		if err != nil {
			t.Fatalf("MapAnonymous: %v", err)
		}
		if err := m.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if m.IsValid() {
			t.Error("mapping still valid after Release")
		}
		if err := m.Release(); err != nil {
			t.Errorf("second Release: %v", err)
		}
	})
}

func TestMapDualView(t *testing.T) {
	rw, rx, err := MapDualView("test-dual", PageSize())
	if err != nil {
		t.Fatalf("MapDualView: %v", err)
	}
	defer rw.Release()
	defer rx.Release()

	if rw.Base() == rx.Base() {
		t.Fatal("views share a base address")
	}
	if rw.Size() != rx.Size() {
		t.Fatalf("view sizes differ: %d vs %d", rw.Size(), rx.Size())
	}
	if rw.Protection() != ProtRW {
		t.Errorf("writable view protection = %s", rw.Protection())
	}
	if rx.Protection() != ProtRX {
		t.Errorf("executable view protection = %s", rx.Protection())
	}

	// Bytes written through the writable view must appear at the same
	// offset of the executable view: both are the same physical frames.
	pattern := []byte{0xc3, 0x90, 0x90, 0xc3, 0x55, 0x48, 0x89, 0xe5}
	copy(rw.Bytes()[128:], pattern)
	if got := rx.Bytes()[128 : 128+len(pattern)]; !bytes.Equal(got, pattern) {
		t.Errorf("executable view reads %x, want %x", got, pattern)
	}
}

func TestProtectionString(t *testing.T) {
	cases := []struct {
		prot Protection
		want string
	}{
		{ProtNone, "---"},
		{ProtRead, "r--"},
		{ProtRW, "rw-"},
		{ProtRX, "r-x"},
		{ProtRWX, "rwx"},
	}
	for _, c := range cases {
		if got := c.prot.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", c.prot, got, c.want)
		}
	}
}
