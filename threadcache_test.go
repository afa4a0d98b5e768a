package tcgomalloc

import "testing"

func newTestAllocatorForTC() *Allocator {
	return NewAllocator(WithOSMemory(newTestMemory()))
}

func TestThreadCacheAllocateDeallocateRoundTrip(t *testing.T) {
	a := newTestAllocatorForTC()
	tc := a.NewCache()
	class := a.sizes.classOf(32)

	c := tc.Allocate(class)
	if c == 0 {
		t.Fatalf("Allocate returned a nil cell")
	}
	tc.Deallocate(class, c)

	b := &tc.buckets[class]
	if b.len() != 1 {
		t.Fatalf("bucket len = %d, want 1 after a single round trip", b.len())
	}
}

func TestThreadCacheSlowStartGrows(t *testing.T) {
	a := newTestAllocatorForTC()
	tc := a.NewCache()
	class := a.sizes.classOf(32)
	b := &tc.buckets[class]

	if b.maxSize != 1 {
		t.Fatalf("initial maxSize = %d, want 1", b.maxSize)
	}

	// First allocation empties the bucket and fetches exactly maxSize
	// (1) cell from the central cache.
	tc.Allocate(class)
	if b.maxSize != 2 {
		t.Fatalf("maxSize after first full-batch fetch = %d, want 2", b.maxSize)
	}

	tc.Allocate(class)
	if b.maxSize != 3 {
		t.Fatalf("maxSize after second full-batch fetch = %d, want 3", b.maxSize)
	}
}

func TestThreadCacheReleasesOnceListTooLong(t *testing.T) {
	a := newTestAllocatorForTC()
	tc := a.NewCache()
	class := a.sizes.classOf(32)
	b := &tc.buckets[class]

	var cells []cellPtr
	for i := 0; i < 40; i++ {
		cells = append(cells, tc.Allocate(class))
	}
	for _, c := range cells {
		tc.Deallocate(class, c)
	}

	if b.len() >= listTooLong(b.maxSize) {
		t.Fatalf("bucket length %d should have dropped below the release threshold %d",
			b.len(), listTooLong(b.maxSize))
	}
}

func TestThreadCacheReleaseAllDrainsEveryBucket(t *testing.T) {
	a := newTestAllocatorForTC()
	tc := a.NewCache()
	class := a.sizes.classOf(32)

	c := tc.Allocate(class)
	tc.Deallocate(class, c)

	tc.releaseAll()

	for i, b := range tc.buckets {
		if b.len() != 0 {
			t.Fatalf("bucket %d still holds %d cells after releaseAll", i, b.len())
		}
	}
}
