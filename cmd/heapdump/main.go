package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/segheap/segheap/internal/allocator"
	"github.com/segheap/segheap/internal/dump"
)

func main() {
	var (
		out       string
		in        string
		reserveMB int
	)

	flag.StringVar(&out, "write", "", "run a small allocator session and write its AllocStats snapshot here")
	flag.StringVar(&in, "read", "", "load and print a previously written snapshot")
	flag.IntVar(&reserveMB, "reserve-mb", 64, "heap reservation size in MiB for --write")
	flag.Parse()

	switch {
	case in != "":
		if err := readSnapshot(in); err != nil {
			fatal(err)
		}
	case out != "":
		if err := writeSnapshot(out, reserveMB); err != nil {
			fatal(err)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: heapdump -write FILE | -read FILE")
		os.Exit(2)
	}
}

func writeSnapshot(path string, reserveMB int) error {
	a, err := allocator.New(allocator.WithReservation(reserveMB * 1 << 20))
	if err != nil {
		return fmt.Errorf("heapdump: new allocator: %w", err)
	}
	defer a.Close()

	if _, err := a.Malloc(128); err != nil {
		return fmt.Errorf("heapdump: malloc: %w", err)
	}

	stats, err := a.Check()
	if err != nil {
		return fmt.Errorf("heapdump: check: %w", err)
	}

	if err := dump.Write(path, stats); err != nil {
		return err
	}

	fmt.Printf("wrote %s (format %s)\n", path, dump.FormatVersion)

	return nil
}

func readSnapshot(path string) error {
	snap, err := dump.Load(path)
	if err != nil {
		return err
	}

	fmt.Printf("format_version=%s total_blocks=%d alloc_blocks=%d free_blocks=%d alloc_bytes=%d free_bytes=%d\n",
		snap.FormatVersion, snap.Stats.TotalBlocks, snap.Stats.AllocBlocks, snap.Stats.FreeBlocks, snap.Stats.AllocBytes, snap.Stats.FreeBytes)

	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
