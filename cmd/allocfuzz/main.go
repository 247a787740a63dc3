package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
	"unsafe"

	"github.com/fsnotify/fsnotify"

	"github.com/segheap/segheap/internal/allocator"
	"github.com/segheap/segheap/internal/diag"
)

func main() {
	var (
		steps       int
		seed        int64
		maxReq      int
		reserveMB   int
		jsonStats   string
		printStats  bool
		watchDir    string
		metricsAddr string
	)

	flag.IntVar(&steps, "steps", 1000000, "number of malloc/free steps to run")
	flag.Int64Var(&seed, "seed", 0, "random seed (0=time)")
	flag.IntVar(&maxReq, "max-req", 4096, "max request size in bytes")
	flag.IntVar(&reserveMB, "reserve-mb", 256, "heap reservation size in MiB")
	flag.StringVar(&jsonStats, "json-stats", "", "write final AllocStats as JSON to this file")
	flag.BoolVar(&printStats, "stats", false, "print AllocStats at the end")
	flag.StringVar(&watchDir, "watch", "", "re-run the workload whenever this directory changes")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "expose live AllocStats on this host:port while running (empty disables)")
	flag.Parse()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if watchDir != "" {
		if err := runWatch(watchDir, func() error {
			return runWorkload(steps, seed, maxReq, reserveMB, jsonStats, printStats, metricsAddr)
		}); err != nil {
			fatal(err)
		}

		return
	}

	if err := runWorkload(steps, seed, maxReq, reserveMB, jsonStats, printStats, metricsAddr); err != nil {
		fatal(err)
	}
}

// runWorkload drives a bounded random malloc/free sequence against a
// fresh allocator, checking every universal invariant periodically,
// and reports the final AllocStats.
func runWorkload(steps int, seed int64, maxReq, reserveMB int, jsonStats string, printStats bool, metricsAddr string) error {
	a, err := allocator.New(allocator.WithReservation(reserveMB * 1 << 20))
	if err != nil {
		return fmt.Errorf("allocfuzz: new allocator: %w", err)
	}
	defer a.Close()

	if metricsAddr != "" {
		bound, stop, err := diag.StartMetricsServer(metricsAddr, map[string]diag.MetricFunc{
			"allocfuzz": diag.StatsCollector(a),
		})
		if err != nil {
			return fmt.Errorf("allocfuzz: metrics server: %w", err)
		}

		defer stop(context.Background())

		fmt.Printf("metrics on http://%s/metrics\n", bound)
	}

	rng := rand.New(rand.NewSource(seed))
	live := make(map[uintptr]struct{})

	checkEvery := steps / 100
	if checkEvery == 0 {
		checkEvery = 1
	}

	start := time.Now()

	for i := 0; i < steps; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			n := uintptr(1 + rng.Intn(maxReq))

			p, err := a.Malloc(n)
			if err != nil {
				return fmt.Errorf("allocfuzz: step %d: malloc(%d): %w", i, n, err)
			}

			if p != nil {
				live[uintptr(p)] = struct{}{}
			}
		} else {
			var victim uintptr
			for k := range live {
				victim = k

				break
			}

			a.Free(unsafe.Pointer(victim))
			delete(live, victim)
		}

		if i%checkEvery == 0 {
			if _, err := a.Check(); err != nil {
				return fmt.Errorf("allocfuzz: step %d: check: %w", i, err)
			}
		}
	}

	stats, err := a.Check()
	if err != nil {
		return fmt.Errorf("allocfuzz: final check: %w", err)
	}

	elapsed := time.Since(start)

	if printStats {
		fmt.Printf("steps=%d seed=%d duration=%s total_blocks=%d alloc_blocks=%d free_blocks=%d alloc_bytes=%d free_bytes=%d\n",
			steps, seed, elapsed.Truncate(time.Millisecond), stats.TotalBlocks, stats.AllocBlocks, stats.FreeBlocks, stats.AllocBytes, stats.FreeBytes)
	}

	if jsonStats != "" {
		body := fmt.Sprintf("{\"steps\":%d,\"seed\":%d,\"duration_ms\":%d,\"total_blocks\":%d,\"alloc_blocks\":%d,\"free_blocks\":%d,\"alloc_bytes\":%d,\"free_bytes\":%d}\n",
			steps, seed, elapsed.Milliseconds(), stats.TotalBlocks, stats.AllocBlocks, stats.FreeBlocks, stats.AllocBytes, stats.FreeBytes)
		if err := os.WriteFile(jsonStats, []byte(body), 0o644); err != nil {
			return fmt.Errorf("allocfuzz: write json-stats: %w", err)
		}
	}

	return nil
}

// runWatch invokes run once, then again on every write or create event
// in dir, until interrupted.
func runWatch(dir string, run func() error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("allocfuzz: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("allocfuzz: watch %s: %w", dir, err)
	}

	fmt.Printf("watching %s, running once now\n", dir)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			fmt.Printf("change detected: %s, re-running\n", ev.Name)

			if err := run(); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			fmt.Fprintln(os.Stderr, "watch error:", err)
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
