// Package dump persists an allocator integrity-check report to disk for
// offline analysis, the way a debugger or crash-repro tool snapshots
// state outside the process that produced it.
package dump

import (
	"encoding/json"
	"fmt"
	"os"

	semver "github.com/Masterminds/semver/v3"

	"github.com/segheap/segheap/internal/allocator"
)

// FormatVersion is the version stamped on every Snapshot written by
// this build. CompatConstraint is what Load requires of a snapshot it
// reads back, allowing the on-disk shape to evolve without breaking
// older dumps outright.
const FormatVersion = "1.0.0"

// CompatConstraint is the semver range of snapshot files this build
// can load.
const CompatConstraint = "^1.0.0"

// Snapshot is the on-disk report written by Write and read by Load.
type Snapshot struct {
	FormatVersion string               `json:"format_version"`
	Stats         allocator.AllocStats `json:"stats"`
}

// Write serializes stats to path as a versioned JSON snapshot.
func Write(path string, stats allocator.AllocStats) error {
	snap := Snapshot{FormatVersion: FormatVersion, Stats: stats}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("dump: marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dump: write %s: %w", path, err)
	}

	return nil
}

// Load reads back a snapshot written by Write, rejecting any whose
// FormatVersion falls outside CompatConstraint.
func Load(path string) (Snapshot, error) {
	var snap Snapshot

	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("dump: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("dump: unmarshal %s: %w", path, err)
	}

	version, err := semver.NewVersion(snap.FormatVersion)
	if err != nil {
		return snap, fmt.Errorf("dump: %s: invalid format_version %q: %w", path, snap.FormatVersion, err)
	}

	constraint, err := semver.NewConstraint(CompatConstraint)
	if err != nil {
		return snap, fmt.Errorf("dump: invalid compat constraint %q: %w", CompatConstraint, err)
	}

	if !constraint.Check(version) {
		return snap, fmt.Errorf("dump: %s: format_version %s does not satisfy %s", path, snap.FormatVersion, CompatConstraint)
	}

	return snap, nil
}
