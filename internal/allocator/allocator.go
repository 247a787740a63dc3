// Package allocator implements the core of a user-space dynamic storage
// allocator: block layout, a segregated explicit free-list index, and
// the splitting/coalescing policy that keeps "no two adjacent free
// blocks" true across every operation. It is single-threaded and
// synchronous by design — callers must serialize access externally.
package allocator

import (
	"fmt"
	"unsafe"

	"github.com/segheap/segheap/internal/heap"
)

// numClasses is the number of segregated size classes.
const numClasses = 9

// classUpperBounds are the inclusive upper bounds (in bytes) of each
// size class; the last class is unbounded.
var classUpperBounds = [numClasses]uintptr{32, 64, 128, 256, 512, 1024, 2048, 4096, ^uintptr(0)}

// ChunkSize is the minimum amount by which the heap is extended when no
// free block satisfies a request.
const ChunkSize = 4096

// Policy configures construction-time knobs. It is the only
// configuration surface the allocator exposes — there is no
// environment variable or config file (spec.md 6).
type Policy struct {
	// ReservationBytes is the virtual address space reserved for the
	// heap up front. <= 0 selects heap.DefaultReservation.
	ReservationBytes int
	// ChunkSize is the minimum heap-extension granularity. <= 0 selects
	// ChunkSize.
	ChunkSize uintptr
}

// Option mutates a Policy at construction time.
type Option func(*Policy)

// WithReservation sets the virtual reservation size in bytes.
func WithReservation(bytes int) Option {
	return func(p *Policy) { p.ReservationBytes = bytes }
}

// WithChunkSize sets the heap-extension granularity.
func WithChunkSize(n uintptr) Option {
	return func(p *Policy) { p.ChunkSize = n }
}

// listHead is one size class's doubly-linked free chain, addressed by
// byte offset from the heap's low address. An offset of 0 means "no
// block" — offset 0 is the leading alignment pad word, never a block
// payload.
type listHead struct {
	head uintptr
}

// Allocator is the block manager: it owns the heap arena, the
// segregated free-list index, and enforces the boundary-tag invariants
// between every public call. The zero value is not usable; construct
// with New.
type Allocator struct {
	heap      *heap.Heap
	lists     [numClasses]listHead
	chunkSize uintptr
	prologue  unsafe.Pointer // payload pointer of the prologue block
}

// New constructs an Allocator and performs its initial heap extension.
// It returns an error (never mutating partially) if the initial
// extension fails — the analogue of spec.md's init() returning false.
func New(opts ...Option) (*Allocator, error) {
	policy := Policy{}
	for _, opt := range opts {
		opt(&policy)
	}

	if policy.ChunkSize == 0 {
		policy.ChunkSize = ChunkSize
	}

	h, err := heap.New(policy.ReservationBytes)
	if err != nil {
		return nil, err
	}

	a := &Allocator{heap: h, chunkSize: policy.ChunkSize}
	if err := a.init(); err != nil {
		_ = h.Close()
		return nil, err
	}

	return a, nil
}

// init lays down the alignment pad and the prologue/epilogue sentinels
// on a fresh heap. The leading pad word is what makes the prologue
// payload, and every payload after it, land on a 16-byte boundary
// (CS:APP mm_init): pad (8 bytes) + prologue header+footer (16 bytes)
// + epilogue header word (8 bytes).
func (a *Allocator) init() error {
	base, err := a.heap.Extend(4 * wordSize)
	if err != nil {
		return errOOM("initial extension failed: %v", err)
	}

	prologuePayload := unsafe.Pointer(uintptr(base) + 2*wordSize)
	setBlock(prologuePayload, 2*wordSize, true)
	a.prologue = prologuePayload

	epilogueHeader := unsafe.Pointer(uintptr(base) + 3*wordSize)
	writeWord(epilogueHeader, pack(0, true))

	return nil
}

// Close releases the underlying heap reservation.
func (a *Allocator) Close() error {
	return a.heap.Close()
}

func (a *Allocator) toOffset(b unsafe.Pointer) uintptr {
	return uintptr(b) - uintptr(a.heap.Lo())
}

func (a *Allocator) fromOffset(off uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(a.heap.Lo()) + off)
}

// sizeClass returns the smallest class whose upper bound is >= n.
func sizeClass(n uintptr) int {
	for i, bound := range classUpperBounds {
		if n <= bound {
			return i
		}
	}

	return numClasses - 1
}

// InArena reports whether ptr lies within [heap.Lo(), heap.Hi()).
func (a *Allocator) InArena(ptr unsafe.Pointer) bool {
	return uintptr(ptr) >= uintptr(a.heap.Lo()) && uintptr(ptr) < uintptr(a.heap.Hi())
}

// Lo and Hi expose the current arena bounds, used by the integrity
// checker and by tests.
func (a *Allocator) Lo() unsafe.Pointer { return a.heap.Lo() }
func (a *Allocator) Hi() unsafe.Pointer { return a.heap.Hi() }

func (a *Allocator) String() string {
	return fmt.Sprintf("Allocator{size=%d}", a.heap.Size())
}
