package allocator

import "unsafe"

// A free block's payload stores its list links as two words: prev-free
// offset, then next-free offset, both measured from the heap's low
// address (spec.md 9 — offsets instead of raw pointers keep the
// ownership graph tree-shaped: the heap owns the bytes, the class heads
// own only offsets into it). An offset of 0 means "no block".

func freePrevOffset(b unsafe.Pointer) uintptr {
	return readWord(b)
}

func freeNextOffset(b unsafe.Pointer) uintptr {
	return readWord(unsafe.Pointer(uintptr(b) + wordSize))
}

func setFreePrevOffset(b unsafe.Pointer, off uintptr) {
	writeWord(b, off)
}

func setFreeNextOffset(b unsafe.Pointer, off uintptr) {
	writeWord(unsafe.Pointer(uintptr(b)+wordSize), off)
}

// insert adds b, which must be free, to the head of its size class's
// list. O(1).
func (a *Allocator) insert(b unsafe.Pointer) {
	class := sizeClass(blockSize(b))
	oldHead := a.lists[class].head

	setFreePrevOffset(b, 0)
	setFreeNextOffset(b, oldHead)

	if oldHead != 0 {
		setFreePrevOffset(a.fromOffset(oldHead), a.toOffset(b))
	}

	a.lists[class].head = a.toOffset(b)
}

// remove splices b out of the size class list it currently belongs to.
// b must be free and must currently be linked into lists[sizeClass(size(b))].
func (a *Allocator) remove(b unsafe.Pointer) {
	class := sizeClass(blockSize(b))
	prevOff := freePrevOffset(b)
	nextOff := freeNextOffset(b)

	if prevOff != 0 {
		setFreeNextOffset(a.fromOffset(prevOff), nextOff)
	} else {
		a.lists[class].head = nextOff
	}

	if nextOff != 0 {
		setFreePrevOffset(a.fromOffset(nextOff), prevOff)
	}
}

// walkClass calls fn for every block currently linked into class,
// head to tail. fn must not mutate the list.
func (a *Allocator) walkClass(class int, fn func(b unsafe.Pointer)) {
	off := a.lists[class].head
	for off != 0 {
		b := a.fromOffset(off)
		fn(b)
		off = freeNextOffset(b)
	}
}
