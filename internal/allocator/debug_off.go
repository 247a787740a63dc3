//go:build !debug

package allocator

import "unsafe"

// debugPostAllocValidate runs the integrity checker after an
// allocation in debug builds. No-op in release builds.
func debugPostAllocValidate(a *Allocator, b unsafe.Pointer) {}

// debugPostFreeValidate runs the integrity checker after a free in
// debug builds. No-op in release builds.
func debugPostFreeValidate(a *Allocator, b unsafe.Pointer) {}
