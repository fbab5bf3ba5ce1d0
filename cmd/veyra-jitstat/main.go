// veyra-jitstat exercises the JIT code cache with a synthetic workload and
// reports region statistics, optionally serving the diagnostics endpoints.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veyra-lang/veyra/internal/cli"
	"github.com/veyra-lang/veyra/internal/config"
	"github.com/veyra-lang/veyra/internal/debug"
	"github.com/veyra-lang/veyra/internal/jit"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output in JSON format")
		policyPath  = flag.String("policy", "", "policy file (TOML); defaults apply when empty")
		methods     = flag.Int("methods", 256, "number of synthetic methods to commit")
		codeSize    = flag.Int("code-size", 512, "machine code bytes per method")
		dataSize    = flag.Int("data-size", 128, "stack map bytes per method (0 disables)")
		evictRatio  = flag.Float64("evict", 0.25, "fraction of methods to evict after committing")
		allowRWX    = flag.Bool("rwx", false, "permit a single read-write-execute view")
		serveAddr   = flag.String("serve", "", "serve diagnostics on this address and wait (e.g. :6170)")
		h3Cert      = flag.String("h3-cert", "", "TLS certificate; also serve diagnostics over HTTP/3 on the -serve address")
		h3Key       = flag.String("h3-key", "", "TLS key for -h3-cert")
		watch       = flag.Bool("watch", false, "watch the policy file and log reloads (requires -policy and -serve)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Veyra JIT code cache inspection tool.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s -methods 1024 -json              # workload, JSON snapshot\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -policy jit.toml -serve :6170    # keep serving /jit/region\n", os.Args[0])
	}
	flag.Parse()

	if *showVersion {
		cli.PrintVersion("veyra-jitstat", *jsonOutput)
		return
	}

	policy := config.Default()
	if *policyPath != "" {
		p, err := config.Load(*policyPath)
		if err != nil {
			cli.ExitWithError("load policy: %v", err)
		}
		policy = p
	}

	cache, err := jit.NewCodeCache(policy, *allowRWX, false)
	if err != nil {
		// The runtime proper would fall back to interpretation here.
		cli.ExitWithError("JIT disabled: %v", err)
	}
	defer cache.Close()

	runWorkload(cache, *methods, *codeSize, *dataSize, *evictRatio)

	snap := cache.Snapshot()
	if *jsonOutput {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			cli.ExitWithError("marshal snapshot: %v", err)
		}
		fmt.Println(string(data))
	} else {
		printSnapshot(snap)
	}

	if *serveAddr == "" {
		return
	}

	addr, shutdown, err := debug.StartHTTP(cache, *serveAddr)
	if err != nil {
		cli.ExitWithError("diagnostics server: %v", err)
	}
	fmt.Printf("serving diagnostics on http://%s/jit/region\n", addr)

	if *h3Cert != "" && *h3Key != "" {
		cert, err := tls.LoadX509KeyPair(*h3Cert, *h3Key)
		if err != nil {
			cli.ExitWithError("load HTTP/3 keypair: %v", err)
		}
		h3 := debug.NewHTTP3Server(cache, *serveAddr, &tls.Config{Certificates: []tls.Certificate{cert}})
		h3Addr, err := h3.Start()
		if err != nil {
			cli.ExitWithError("HTTP/3 diagnostics server: %v", err)
		}
		defer h3.Stop()
		fmt.Printf("serving diagnostics on https://%s/jit/region (HTTP/3)\n", h3Addr)
	}

	if *watch && *policyPath != "" {
		w, err := config.Watch(*policyPath)
		if err != nil {
			cli.ExitWithError("policy watcher: %v", err)
		}
		defer w.Close()
		go func() {
			for {
				select {
				case p, ok := <-w.Updates():
					if !ok {
						return
					}
					fmt.Printf("policy reloaded: max capacity %s (applies to new regions)\n",
						cli.FormatBytes(p.MaxCapacity))
				case err, ok := <-w.Errors():
					if !ok {
						return
					}
					fmt.Fprintf(os.Stderr, "policy reload rejected: %v\n", err)
				}
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

// runWorkload commits synthetic methods and evicts a slice of them, the way
// a warming-then-churning compiler would.
func runWorkload(cache *jit.CodeCache, methods, codeSize, dataSize int, evictRatio float64) {
	rng := rand.New(rand.NewSource(1))
	code := make([]byte, codeSize)
	stackMap := make([]byte, dataSize)
	for i := 0; i < methods; i++ {
		rng.Read(code)
		rng.Read(stackMap)
		name := fmt.Sprintf("method%04d", i)
		if _, err := cache.Commit(name, code, stackMap); err != nil {
			fmt.Fprintf(os.Stderr, "%s not compiled: %v\n", name, err)
			break
		}
	}
	for i := 0; i < int(float64(methods)*evictRatio); i++ {
		cache.Evict(fmt.Sprintf("method%04d", rng.Intn(methods)))
	}
}

func printSnapshot(s jit.RegionSnapshot) {
	mode := "single-view (rwx)"
	if s.DualMapping {
		mode = "dual-view (w^x)"
	}
	fmt.Printf("mapping mode:     %s\n", mode)
	fmt.Printf("capacity:         %s current / %s max\n",
		cli.FormatBytes(uint64(s.CurrentCapacity)), cli.FormatBytes(uint64(s.MaxCapacity)))
	fmt.Printf("footprint:        %s code / %s data\n",
		cli.FormatBytes(uint64(s.ExecFootprint)), cli.FormatBytes(uint64(s.DataFootprint)))
	fmt.Printf("live bytes:       %s code / %s data\n",
		cli.FormatBytes(uint64(s.UsedForCode)), cli.FormatBytes(uint64(s.UsedForData)))
	fmt.Printf("methods:          %d\n", s.Methods)
	fmt.Printf("commits:          %d (%d retries, %d failures)\n",
		s.Metrics.Commits, s.Metrics.CommitRetries, s.Metrics.CommitFails)
	fmt.Printf("evictions:        %d\n", s.Metrics.Evictions)
	fmt.Printf("capacity growths: %d\n", s.Metrics.CapacityGrows)
}
