package tcgomalloc

import (
	"testing"
	"unsafe"
)

func newTestAllocator() *Allocator {
	return NewAllocator(WithOSMemory(newTestMemory()))
}

func TestAllocatorSmallRoundTrip(t *testing.T) {
	a := newTestAllocator()
	tc := a.NewCache()

	p := a.Allocate(tc, 24)
	if p == nil {
		t.Fatalf("Allocate returned nil")
	}
	*(*byte)(p) = 0x42
	if *(*byte)(p) != 0x42 {
		t.Fatalf("write to allocated memory did not stick")
	}
	a.Deallocate(tc, p, 24)

	snap := a.Stats()
	if snap.BytesInUse != 0 {
		t.Fatalf("BytesInUse = %d, want 0 after the only allocation is freed", snap.BytesInUse)
	}
}

func TestAllocatorOversizeRoundTrip(t *testing.T) {
	a := newTestAllocator()
	size := uintptr(MaxSmall + 1)

	p := a.Allocate(nil, size)
	if p == nil {
		t.Fatalf("Allocate returned nil")
	}
	*(*byte)(p) = 7
	a.Deallocate(nil, p, size)

	snap := a.Stats()
	if snap.BytesInUse != 0 {
		t.Fatalf("BytesInUse = %d, want 0", snap.BytesInUse)
	}
}

func TestAllocatorDistinctAllocationsDoNotOverlap(t *testing.T) {
	a := newTestAllocator()
	tc := a.NewCache()

	const n = 200
	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		ptrs[i] = a.Allocate(tc, 40)
		*(*int64)(ptrs[i]) = int64(i)
	}
	for i, p := range ptrs {
		if got := *(*int64)(p); got != int64(i) {
			t.Fatalf("cell %d was clobbered: got %d", i, got)
		}
	}
	for _, p := range ptrs {
		a.Deallocate(tc, p, 40)
	}
}

func TestAllocatorReleaseCacheStopsTracking(t *testing.T) {
	a := newTestAllocator()
	tc := a.NewCache()
	p := a.Allocate(tc, 16)
	a.Deallocate(tc, p, 16)

	a.ReleaseCache(tc)

	a.mu.Lock()
	for _, c := range a.caches {
		if c == tc {
			a.mu.Unlock()
			t.Fatalf("released cache is still tracked by the allocator")
		}
	}
	a.mu.Unlock()
}

func TestAllocatorZeroSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic allocating zero bytes")
		}
	}()
	a := newTestAllocator()
	tc := a.NewCache()
	a.Allocate(tc, 0)
}

func TestAllocatorNilCacheForSmallSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic allocating a small size with a nil ThreadCache")
		}
	}()
	a := newTestAllocator()
	a.Allocate(nil, 16)
}

func TestAllocatorDeallocateNilIsNoop(t *testing.T) {
	a := newTestAllocator()
	a.Deallocate(nil, nil, 16)
}

func TestPackageLevelConvenienceFunctions(t *testing.T) {
	tc := NewCache()
	p := Allocate(tc, 16)
	if p == nil {
		t.Fatalf("package-level Allocate returned nil")
	}
	Deallocate(tc, p, 16)
	_ = Stats()
}
