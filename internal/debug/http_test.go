package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/veyra-lang/veyra/internal/config"
	"github.com/veyra-lang/veyra/internal/jit"
)

type fakeSource struct {
	snap   jit.RegionSnapshot
	policy config.Policy
}

func (f *fakeSource) Snapshot() jit.RegionSnapshot { return f.snap }
func (f *fakeSource) Policy() config.Policy        { return f.policy }

func TestDiagnosticsHTTP(t *testing.T) {
	src := &fakeSource{
		snap: jit.RegionSnapshot{
			DualMapping:     true,
			CurrentCapacity: 128 * config.KB,
			MaxCapacity:     64 * config.MB,
			Methods:         3,
		},
		policy: config.Default(),
	}

	addr, shutdown, err := StartHTTP(src, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartHTTP: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	t.Run("Region", func(t *testing.T) {
		resp, err := http.Get("http://" + addr + "/jit/region")
		if err != nil {
			t.Fatalf("GET /jit/region: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		var got jit.RegionSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.DualMapping || got.CurrentCapacity != 128*config.KB || got.Methods != 3 {
			t.Errorf("snapshot = %+v", got)
		}
	})

	t.Run("Policy", func(t *testing.T) {
		resp, err := http.Get("http://" + addr + "/jit/policy")
		if err != nil {
			t.Fatalf("GET /jit/policy: %v", err)
		}
		defer resp.Body.Close()
		var got config.Policy
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.MaxCapacity != config.Default().MaxCapacity {
			t.Errorf("policy = %+v", got)
		}
	})
}
