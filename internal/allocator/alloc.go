package allocator

import "unsafe"

// Malloc returns a 16-byte-aligned payload pointer to at least n
// writable bytes, or an error if the heap cannot be grown far enough.
// Malloc(0) returns (nil, nil) — a no-op success, mirroring the C
// standard's "malloc(0) may return NULL" and spec.md 6.
func (a *Allocator) Malloc(n uintptr) (unsafe.Pointer, error) {
	if n == 0 {
		return nil, nil
	}

	if n > maxRequestSize {
		return nil, errInvalidSize("malloc: request of %d bytes overflows block-size arithmetic", n)
	}

	asize := requestToBlockSize(n)

	b := a.findFit(asize)
	if b == nil {
		var err error

		b, err = a.extendAndCoalesce(asize)
		if err != nil {
			return nil, err
		}
	}

	a.place(b, asize)

	debugPostAllocValidate(a, b)

	return b, nil
}

// findFit scans size classes from sizeClass(asize) upward, first-fit
// within each class.
func (a *Allocator) findFit(asize uintptr) unsafe.Pointer {
	var found unsafe.Pointer

	for class := sizeClass(asize); class < numClasses; class++ {
		a.walkClass(class, func(b unsafe.Pointer) {
			if found != nil {
				return
			}

			if blockSize(b) >= asize {
				found = b
			}
		})

		if found != nil {
			return found
		}
	}

	return nil
}

// place marks a chosen free block allocated, splitting off a free
// remainder when the leftover is at least minBlock.
func (a *Allocator) place(b unsafe.Pointer, asize uintptr) {
	csize := blockSize(b)
	a.remove(b)

	remainder := csize - asize
	if remainder >= minBlock {
		setBlock(b, asize, true)

		rest := nextBlock(b)
		setBlock(rest, remainder, false)
		a.insert(rest)

		return
	}

	setBlock(b, csize, true)
}

// extendAndCoalesce grows the heap by the larger of asize and the
// chunk size, installs a new epilogue, coalesces the new
// free region with whatever precedes it, and returns the resulting
// free block.
func (a *Allocator) extendAndCoalesce(asize uintptr) (unsafe.Pointer, error) {
	grow := asize
	if grow < a.chunkSize {
		grow = a.chunkSize
	}

	oldEpilogueHeader := unsafe.Pointer(uintptr(a.Hi()) - wordSize)

	// Extend by exactly grow bytes: the new free block's header reuses
	// the old epilogue's word (already part of the heap, not newly
	// extended), and its footer plus the new epilogue header together
	// fill the last two words of the newly extended region.
	base, err := a.heap.Extend(grow)
	if err != nil {
		return nil, errOOM("extend by %d: %v", grow, err)
	}

	// base is where heap.Extend started growing from, which is exactly
	// the old epilogue's address plus one word.
	_ = base

	newFree := unsafe.Pointer(uintptr(oldEpilogueHeader) + wordSize)
	setBlock(newFree, grow, false)

	newEpilogueHeader := unsafe.Pointer(uintptr(nextBlock(newFree)) - wordSize)
	writeWord(newEpilogueHeader, pack(0, true))

	return a.coalesce(newFree), nil
}
