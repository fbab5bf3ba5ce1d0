// Package debug exposes JIT code cache diagnostics over HTTP. The handlers
// read atomic metrics and lock-guarded snapshots; they never hold the JIT
// lock across a response write.
package debug

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/veyra-lang/veyra/internal/config"
	"github.com/veyra-lang/veyra/internal/jit"
)

// StatsSource is what the server needs from a code cache.
type StatsSource interface {
	Snapshot() jit.RegionSnapshot
	Policy() config.Policy
}

// NewMux builds the diagnostics handler:
//
//	GET /jit/region -> JSON of the region snapshot
//	GET /jit/policy -> JSON of the active policy
func NewMux(src StatsSource) *http.ServeMux {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(v)
	}

	mux.HandleFunc("/jit/region", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Snapshot())
	})
	mux.HandleFunc("/jit/policy", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Policy())
	})
	return mux
}

// StartHTTP serves the diagnostics endpoints on addr. It returns the bound
// address (useful with ":0") and a shutdown function compatible with
// http.Server.Shutdown.
func StartHTTP(src StatsSource, addr string) (string, func(ctx context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: NewMux(src), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String(), srv.Shutdown, nil
}
