package allocator

import "unsafe"

// Free releases the block backing p. p must have been returned by a
// previous Malloc/Realloc/Calloc call on this Allocator and not freed
// since — violating that is undefined behaviour and is not detected
// (spec.md 7). Free(nil) is a no-op.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	setBlock(p, blockSize(p), false)
	a.coalesce(p)

	debugPostFreeValidate(a, p)
}

// coalesce merges b, which has just been marked free but is not yet
// linked into any size-class list, with any free neighbours, and links
// the surviving block into its class's list. It returns the payload
// pointer of the block that survives (always the lower address of
// whatever was merged).
func (a *Allocator) coalesce(b unsafe.Pointer) unsafe.Pointer {
	prev := prevBlock(b)
	next := nextBlock(b)

	prevFree := !blockAlloc(prev)
	nextFree := !blockAlloc(next)

	switch {
	case !prevFree && !nextFree:
		a.insert(b)

		return b
	case !prevFree && nextFree:
		a.remove(next)

		merged := blockSize(b) + blockSize(next)
		setBlock(b, merged, false)
		a.insert(b)

		return b
	case prevFree && !nextFree:
		a.remove(prev)

		merged := blockSize(prev) + blockSize(b)
		setBlock(prev, merged, false)
		a.insert(prev)

		return prev
	default: // prevFree && nextFree
		a.remove(prev)
		a.remove(next)

		merged := blockSize(prev) + blockSize(b) + blockSize(next)
		setBlock(prev, merged, false)
		a.insert(prev)

		return prev
	}
}
