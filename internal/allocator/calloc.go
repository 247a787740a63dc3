package allocator

import (
	"unsafe"
)

// Calloc returns a zeroed buffer of k*n bytes, or an error if k*n
// overflows or the heap cannot satisfy the request (spec.md 4.6).
func (a *Allocator) Calloc(k, n uintptr) (unsafe.Pointer, error) {
	if k == 0 || n == 0 {
		return nil, nil
	}

	if k > ^uintptr(0)/n {
		return nil, errOOM("calloc: %d*%d overflows", k, n)
	}

	total := k * n

	p, err := a.Malloc(total)
	if err != nil {
		return nil, err
	}

	if p == nil {
		return nil, nil
	}

	zero(p, total)

	return p, nil
}

func zero(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}
