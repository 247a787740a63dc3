//go:build debug

package allocator

import "unsafe"

// In debug builds, every public mutation is followed by a full
// integrity check; the first violation aborts the process instead of
// being silently returned, surfacing spec.md's InvariantViolated as a
// fatal condition the way the spec prescribes for a debug-enabled
// checker rather than as a library-level error.

func debugPostAllocValidate(a *Allocator, b unsafe.Pointer) {
	if b == nil {
		return
	}

	if _, err := a.Check(); err != nil {
		panic("segheap: " + err.Error())
	}
}

func debugPostFreeValidate(a *Allocator, b unsafe.Pointer) {
	if _, err := a.Check(); err != nil {
		panic("segheap: " + err.Error())
	}
}
