package allocator

import "unsafe"

// Realloc implements spec.md 4.5: Realloc(nil, n) == Malloc(n);
// Realloc(p, 0) frees p and returns nil; otherwise it allocates a new
// block, copies min(n, old payload size) bytes, frees the old block,
// and returns the new pointer. On allocation failure the old block is
// left completely untouched.
func (a *Allocator) Realloc(p unsafe.Pointer, n uintptr) (unsafe.Pointer, error) {
	if p == nil {
		return a.Malloc(n)
	}

	if n == 0 {
		a.Free(p)
		return nil, nil
	}

	newp, err := a.Malloc(n)
	if err != nil {
		return nil, err
	}

	oldPayloadSize := blockSize(p) - 2*wordSize
	copySize := n
	if oldPayloadSize < copySize {
		copySize = oldPayloadSize
	}

	copyBytes(newp, p, copySize)
	a.Free(p)

	return newp, nil
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
