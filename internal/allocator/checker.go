package allocator

import "unsafe"

// AllocStats summarizes a successful Check, mirroring the shape of a
// conventional storage-allocator stats report: atom/block counts split
// by allocation state. Relocations has no analogue in this design (the
// block manager never moves a live block) and is always zero; it is
// kept so callers that log AllocStats alongside other allocators in
// this family see a stable field set.
type AllocStats struct {
	TotalBlocks int64
	AllocBlocks int64
	FreeBlocks  int64
	AllocBytes  int64
	FreeBytes   int64
	Relocations int64
}

// Check walks the entire arena and free-list index, verifying every
// invariant in spec.md 3 and 8. It mutates nothing. On success it
// returns a populated AllocStats; on the first violation found it
// returns a descriptive error and a zero AllocStats.
func (a *Allocator) Check() (AllocStats, error) {
	var stats AllocStats

	freeSeen := make(map[uintptr]bool)

	cur := a.prologue
	if blockSize(cur) != 2*wordSize || !blockAlloc(cur) {
		return AllocStats{}, errInvariant("prologue malformed: size=%d alloc=%v", blockSize(cur), blockAlloc(cur))
	}

	var prevWasFree bool

	for {
		if uintptr(cur)%alignment != 0 {
			return AllocStats{}, errInvariant("block at %p not 16-byte aligned", cur)
		}

		hdr := readWord(headerAddr(cur))
		bsize := unpackSize(hdr)
		isAlloc := unpackAlloc(hdr)

		isEpilogue := bsize == 0 && isAlloc
		if isEpilogue {
			if uintptr(cur) != uintptr(a.Hi()) {
				return AllocStats{}, errInvariant("epilogue not at end of arena: got %p want %p", cur, a.Hi())
			}

			break
		}

		ftr := readWord(footerAddr(cur, bsize))
		if hdr != ftr {
			return AllocStats{}, errInvariant("header/footer mismatch at %p: %#x != %#x", cur, hdr, ftr)
		}

		if !isAlloc && prevWasFree {
			return AllocStats{}, errInvariant("two adjacent free blocks ending at %p", cur)
		}

		stats.TotalBlocks++

		if isAlloc {
			stats.AllocBlocks++
			stats.AllocBytes += int64(bsize) - 2*wordSize
		} else {
			stats.FreeBlocks++
			stats.FreeBytes += int64(bsize) - 2*wordSize
			freeSeen[a.toOffset(cur)] = true
		}

		prevWasFree = !isAlloc
		cur = nextBlock(cur)

		if uintptr(cur) > uintptr(a.Hi()) {
			return AllocStats{}, errInvariant("arena walk ran past heap.Hi()")
		}
	}

	listed := make(map[uintptr]bool)

	for class := 0; class < numClasses; class++ {
		var walkErr error

		a.walkClass(class, func(b unsafe.Pointer) {
			if walkErr != nil {
				return
			}

			if !a.InArena(b) {
				walkErr = errInvariant("free list %d entry %p not in arena", class, b)
				return
			}

			if blockAlloc(b) {
				walkErr = errInvariant("free list %d entry %p is marked allocated", class, b)
				return
			}

			got := sizeClass(blockSize(b))
			if got != class {
				walkErr = errInvariant("free list %d entry %p belongs to class %d", class, b, got)
				return
			}

			off := a.toOffset(b)
			if !freeSeen[off] {
				walkErr = errInvariant("free list %d entry %p not found by arena walk", class, b)
				return
			}

			listed[off] = true
		})

		if walkErr != nil {
			return AllocStats{}, walkErr
		}
	}

	if len(listed) != len(freeSeen) {
		return AllocStats{}, errInvariant("free-list/arena-walk parity mismatch: listed=%d walked=%d", len(listed), len(freeSeen))
	}

	return stats, nil
}
