package allocator

import (
	"errors"
	"testing"
	"unsafe"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()

	a, err := New(WithReservation(64 * 1024 * 1024))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { _ = a.Close() })

	return a
}

func mustMalloc(t *testing.T, a *Allocator, n uintptr) unsafe.Pointer {
	t.Helper()

	p, err := a.Malloc(n)
	if err != nil {
		t.Fatalf("Malloc(%d): %v", n, err)
	}

	if p == nil {
		t.Fatalf("Malloc(%d): got nil, want non-nil", n)
	}

	return p
}

func mustCheck(t *testing.T, a *Allocator) AllocStats {
	t.Helper()

	stats, err := a.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	return stats
}

// S1 — fit & split: two small allocations land close together.
func TestFitAndSplit(t *testing.T) {
	a := newTestAllocator(t)

	x := mustMalloc(t, a, 24)
	y := mustMalloc(t, a, 24)

	delta := uintptr(y) - uintptr(x)
	if delta < 32 || delta > 64 {
		t.Fatalf("b-a = %d, want in [32,64]", delta)
	}

	mustCheck(t, a)
}

// S2 — exact-fit reuse: freeing and re-mallocing the same size reuses
// the same block without growing the arena.
func TestExactFitNoSplit(t *testing.T) {
	a := newTestAllocator(t)

	x := mustMalloc(t, a, 24)
	sizeBefore := a.heap.Size()

	a.Free(x)
	y := mustMalloc(t, a, 24)

	if x != y {
		t.Fatalf("re-malloc returned %p, want reuse of %p", y, x)
	}

	if a.heap.Size() != sizeBefore {
		t.Fatalf("arena grew from %d to %d on an exact-fit reuse", sizeBefore, a.heap.Size())
	}

	mustCheck(t, a)
}

// S3 — coalesce case 4 (free-free-free): freeing three interior
// neighbours in sequence merges them into one free block.
func TestCoalesceBothNeighbours(t *testing.T) {
	a := newTestAllocator(t)

	x := mustMalloc(t, a, 64)
	y := mustMalloc(t, a, 64)
	z := mustMalloc(t, a, 64)
	w := mustMalloc(t, a, 64)

	a.Free(y)
	a.Free(w)
	a.Free(z)

	mustCheck(t, a)

	merged := blockSize(x)
	_ = merged

	found := false

	for class := sizeClass(192); class < numClasses; class++ {
		a.walkClass(class, func(b unsafe.Pointer) {
			if blockSize(b) >= 192 {
				found = true
			}
		})
	}

	if !found {
		t.Fatalf("expected a free block of size >= 192 after coalescing y,z,w")
	}
}

// S4 — realloc grow preserves the written prefix.
func TestReallocGrow(t *testing.T) {
	a := newTestAllocator(t)

	x := mustMalloc(t, a, 32)

	pattern := make([]byte, 32)
	for i := range pattern {
		pattern[i] = byte('0' + i%10)
	}

	copy(unsafe.Slice((*byte)(x), 32), pattern)

	y, err := a.Realloc(x, 1024)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}

	if y == nil {
		t.Fatalf("Realloc grow returned nil")
	}

	got := unsafe.Slice((*byte)(y), 32)
	for i, want := range pattern {
		if got[i] != want {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want)
		}
	}

	mustCheck(t, a)
}

// S5 — realloc shrink preserves the retained prefix.
func TestReallocShrink(t *testing.T) {
	a := newTestAllocator(t)

	x := mustMalloc(t, a, 1024)

	pattern := make([]byte, 16)
	for i := range pattern {
		pattern[i] = byte('a' + i)
	}

	copy(unsafe.Slice((*byte)(x), 16), pattern)

	y, err := a.Realloc(x, 16)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}

	if y == nil {
		t.Fatalf("Realloc shrink returned nil")
	}

	got := unsafe.Slice((*byte)(y), 16)
	for i, want := range pattern {
		if got[i] != want {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want)
		}
	}

	mustCheck(t, a)
}

// S6 — heap extend: allocations summing beyond one chunk must grow the
// heap to at least the total bytes requested.
func TestHeapExtend(t *testing.T) {
	a := newTestAllocator(t)

	const allocSize = 256

	count := int(3*ChunkSize/allocSize) + 1
	for i := 0; i < count; i++ {
		mustMalloc(t, a, allocSize)
	}

	mustCheck(t, a)

	if a.heap.Size() < uintptr(count*allocSize) {
		t.Fatalf("arena size %d too small for %d allocations of %d bytes", a.heap.Size(), count, allocSize)
	}
}

func TestReallocFromNilIsMalloc(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Realloc(nil, 48)
	if err != nil {
		t.Fatalf("Realloc(nil, 48): %v", err)
	}

	if p == nil {
		t.Fatalf("Realloc(nil, 48) returned nil")
	}

	mustCheck(t, a)
}

func TestReallocToZeroFrees(t *testing.T) {
	a := newTestAllocator(t)

	p := mustMalloc(t, a, 48)

	got, err := a.Realloc(p, 0)
	if err != nil {
		t.Fatalf("Realloc(p, 0): %v", err)
	}

	if got != nil {
		t.Fatalf("Realloc(p, 0) = %p, want nil", got)
	}

	mustCheck(t, a)
}

func TestCallocZeroesMemory(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Calloc(16, 8)
	if err != nil {
		t.Fatalf("Calloc: %v", err)
	}

	buf := unsafe.Slice((*byte)(p), 16*8)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}

	mustCheck(t, a)
}

func TestCallocOverflowFails(t *testing.T) {
	a := newTestAllocator(t)

	_, err := a.Calloc(^uintptr(0), 2)
	if err == nil {
		t.Fatalf("Calloc(MaxUintptr, 2): expected overflow error, got nil")
	}
}

func TestMallocOversizeRequestIsInvalidSize(t *testing.T) {
	a := newTestAllocator(t)

	_, err := a.Malloc(maxRequestSize + 1)
	if err == nil {
		t.Fatalf("Malloc(maxRequestSize+1): expected error, got nil")
	}

	var aerr *AllocError
	if !errors.As(err, &aerr) {
		t.Fatalf("Malloc(maxRequestSize+1): error %v is not an *AllocError", err)
	}

	if aerr.Code != ErrCodeInvalidSize {
		t.Fatalf("Malloc(maxRequestSize+1): code = %v, want %v", aerr.Code, ErrCodeInvalidSize)
	}
}

func TestMallocZeroReturnsNil(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Malloc(0)
	if err != nil {
		t.Fatalf("Malloc(0): %v", err)
	}

	if p != nil {
		t.Fatalf("Malloc(0) = %p, want nil", p)
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	a := newTestAllocator(t)
	a.Free(nil) // must not panic
	mustCheck(t, a)
}

// Invariant 8: freeing and re-mallocing the same size between two
// identical workload prefixes leaves the arena the same total size.
func TestNoSystematicLeak(t *testing.T) {
	a := newTestAllocator(t)

	sizes := []uintptr{24, 40, 100, 500, 2000}

	var ptrs []unsafe.Pointer
	for _, s := range sizes {
		ptrs = append(ptrs, mustMalloc(t, a, s))
	}

	for _, p := range ptrs {
		a.Free(p)
	}

	sizeAfterFirstPass := a.heap.Size()

	ptrs = ptrs[:0]
	for _, s := range sizes {
		ptrs = append(ptrs, mustMalloc(t, a, s))
	}

	for _, p := range ptrs {
		a.Free(p)
	}

	if a.heap.Size() != sizeAfterFirstPass {
		t.Fatalf("arena grew from %d to %d on repeated identical workload", sizeAfterFirstPass, a.heap.Size())
	}

	mustCheck(t, a)
}

func TestPayloadAlignment(t *testing.T) {
	a := newTestAllocator(t)

	for _, n := range []uintptr{1, 7, 15, 16, 17, 100, 4096} {
		p := mustMalloc(t, a, n)
		if uintptr(p)%alignment != 0 {
			t.Fatalf("Malloc(%d) = %p, not 16-byte aligned", n, p)
		}
	}
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	a := newTestAllocator(t)

	type span struct{ lo, hi uintptr }

	var spans []span

	for i := 0; i < 64; i++ {
		n := uintptr(16 + i*8)
		p := mustMalloc(t, a, n)
		spans = append(spans, span{uintptr(p), uintptr(p) + n})
	}

	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}

			if spans[i].lo < spans[j].hi && spans[j].lo < spans[i].hi {
				t.Fatalf("allocation %d [%d,%d) overlaps %d [%d,%d)", i, spans[i].lo, spans[i].hi, j, spans[j].lo, spans[j].hi)
			}
		}
	}

	mustCheck(t, a)
}
