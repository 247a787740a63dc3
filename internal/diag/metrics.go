// Package diag exposes allocator health over a minimal Prometheus-style
// text endpoint, for attaching a live allocator to an external monitor
// without shipping a full metrics client.
package diag

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/segheap/segheap/internal/allocator"
)

// MetricFunc returns a snapshot of metric name -> value.
type MetricFunc func() map[string]float64

// StatsCollector adapts an Allocator's integrity check into a MetricFunc
// suitable for StartMetricsServer. Check is re-run on every scrape, so
// the endpoint should not be polled faster than a check is affordable.
func StatsCollector(a *allocator.Allocator) MetricFunc {
	return func() map[string]float64 {
		stats, err := a.Check()
		if err != nil {
			return map[string]float64{"check_failed": 1}
		}

		return map[string]float64{
			"total_blocks": float64(stats.TotalBlocks),
			"alloc_blocks": float64(stats.AllocBlocks),
			"free_blocks":  float64(stats.FreeBlocks),
			"alloc_bytes":  float64(stats.AllocBytes),
			"free_bytes":   float64(stats.FreeBytes),
			"check_failed": 0,
		}
	}
}

// StartMetricsServer starts a minimal text exposition endpoint on addr
// (host:port). It returns the bound address, which may differ from addr
// if port 0 was requested, and a shutdown function.
func StartMetricsServer(addr string, collectors map[string]MetricFunc) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		names := make([]string, 0, len(collectors))
		for name := range collectors {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			fn := collectors[name]
			if fn == nil {
				continue
			}

			snapshot := fn()

			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}

			sort.Strings(keys)

			for _, k := range keys {
				fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
			}
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	bound := ln.Addr().String()

	go func() {
		_ = srv.Serve(ln)
	}()

	stop := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}

	return bound, stop, nil
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}

	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}

	return strings.ReplaceAll(string(b), "__", "_")
}
