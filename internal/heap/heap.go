// Package heap provides the grow-only byte arena the block manager is
// built on top of: a contiguous, never-shrinking region obtained from a
// single upfront reservation, extended by advancing a high-water mark
// inside it rather than by remapping or copying.
package heap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultReservation is the virtual address space reserved by New when
// no explicit size is requested. It is not committed memory: the kernel
// backs pages lazily on first touch, the same trick a sbrk-backed
// memlib relies on when it mmaps its whole arena up front.
const DefaultReservation = 1 << 32 // 4 GiB

// Heap is a grow-only arena. Addresses handed out by Extend remain
// valid for the lifetime of the Heap: growth never moves existing
// bytes, it only advances hi within the reservation.
type Heap struct {
	mem      []byte
	lo       uintptr
	hi       uintptr
	capacity uintptr
	pageSize uintptr
}

// New reserves maxBytes of address space and returns an empty Heap
// (Lo() == Hi()). maxBytes <= 0 selects DefaultReservation.
func New(maxBytes int) (*Heap, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultReservation
	}

	mem, err := unix.Mmap(-1, 0, maxBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve %d bytes: %w", maxBytes, err)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))

	return &Heap{
		mem:      mem,
		lo:       base,
		hi:       base,
		capacity: uintptr(maxBytes),
		pageSize: uintptr(unix.Getpagesize()),
	}, nil
}

// Extend grows the heap by n bytes and returns the address of the
// start of the new region (the previous Hi()). It fails, mutating
// nothing, if the reservation would be exhausted.
func (h *Heap) Extend(n uintptr) (unsafe.Pointer, error) {
	if n == 0 {
		return unsafe.Pointer(h.hi), nil
	}

	if h.hi-h.lo+n > h.capacity {
		return nil, fmt.Errorf("heap: extend by %d exceeds reservation of %d bytes", n, h.capacity)
	}

	prevHi := h.hi
	h.hi += n

	return unsafe.Pointer(prevHi), nil
}

// Lo returns the current low address of the arena (constant for the
// life of the Heap).
func (h *Heap) Lo() unsafe.Pointer { return unsafe.Pointer(h.lo) }

// Hi returns the current high address of the arena (one past the last
// committed byte).
func (h *Heap) Hi() unsafe.Pointer { return unsafe.Pointer(h.hi) }

// Size returns the number of bytes currently extended into the arena.
func (h *Heap) Size() uintptr { return h.hi - h.lo }

// PageSize returns the platform page size. The allocator package does
// not call it; its initial extension is a fixed four words.
func (h *Heap) PageSize() uintptr { return h.pageSize }

// Close releases the reservation. The Heap must not be used afterward.
func (h *Heap) Close() error {
	if h.mem == nil {
		return nil
	}

	err := unix.Munmap(h.mem)
	h.mem = nil

	return err
}
