package tcgomalloc

import "testing"

func newTestCentralCache() (*centralCache, *pageCache) {
	pc := newTestPageCache()
	sizes := newSizeClasses()
	return newCentralCache(sizes, pc), pc
}

func walkCells(start cellPtr, n int) []cellPtr {
	out := make([]cellPtr, 0, n)
	for c := start; c != 0 && len(out) < n; c = c.ptr().next {
		out = append(out, c)
	}
	return out
}

func TestCentralCacheFetchRangeGrowsAndReturnsExactCount(t *testing.T) {
	cc, _ := newTestCentralCache()
	class := cc.sizes.classOf(32)

	start, end := cc.FetchRange(class, 10)
	cells := walkCells(start, 10)
	if len(cells) != 10 {
		t.Fatalf("got %d cells, want 10", len(cells))
	}
	if end != cells[len(cells)-1] {
		t.Fatalf("end pointer does not match the last cell")
	}
	if end.ptr().next != 0 {
		t.Fatalf("returned run should be null-terminated")
	}

	seen := map[cellPtr]bool{}
	for _, c := range cells {
		if seen[c] {
			t.Fatalf("duplicate cell address %v", c)
		}
		seen[c] = true
	}
}

func TestCentralCacheFetchRangeSpansMultipleSpans(t *testing.T) {
	cc, _ := newTestCentralCache()
	class := cc.sizes.classOf(32)
	b := &cc.buckets[class]

	want := int(cc.sizes.pagesOf(class)*PageSize/cc.sizes.sizeOf(class)) * 2
	start, _ := cc.FetchRange(class, want)
	cells := walkCells(start, want)
	if len(cells) != want {
		t.Fatalf("got %d cells, want %d (should have grown a second span)", len(cells), want)
	}
	if b.nonempty.isEmpty() && b.empty.isEmpty() {
		t.Fatalf("bucket should hold at least one span after growth")
	}
}

func TestCentralCacheFetchThenReleaseRoundTrip(t *testing.T) {
	cc, _ := newTestCentralCache()
	class := cc.sizes.classOf(32)

	capacity := int((cc.sizes.pagesOf(class) * PageSize) / cc.sizes.sizeOf(class))

	start, _ := cc.FetchRange(class, capacity)
	b := &cc.buckets[class]
	if b.empty.isEmpty() {
		t.Fatalf("expected the span to have moved to the empty list after a full checkout")
	}

	cc.ReleaseRange(class, start, capacity)

	// A freshly grown bucket is exactly one span; releasing every cell
	// it ever handed out returns it to the page cache and leaves the
	// bucket with no spans at all.
	if !b.nonempty.isEmpty() || !b.empty.isEmpty() {
		t.Fatalf("expected the fully-freed span to be returned to the page cache")
	}
}

func TestCentralCacheReleasePartialKeepsSpanCached(t *testing.T) {
	cc, _ := newTestCentralCache()
	class := cc.sizes.classOf(32)
	b := &cc.buckets[class]

	elemSize := cc.sizes.sizeOf(class)
	pages := cc.sizes.pagesOf(class)
	capacity := int((pages * PageSize) / elemSize)

	// Check out an entire span's worth of cells, so the span moves to
	// the empty list, then return only half of them.
	start, _ := cc.FetchRange(class, capacity)
	if b.empty.isEmpty() {
		t.Fatalf("span should be on the empty list after a full checkout")
	}

	cells := walkCells(start, capacity)
	half := capacity / 2
	var tail cellPtr
	for i := 0; i < half-1; i++ {
		cells[i].ptr().next = cells[i+1]
		tail = cells[i+1]
	}
	if half == 1 {
		tail = cells[0]
	}
	tail.ptr().next = 0

	cc.ReleaseRange(class, cells[0], half)

	if b.nonempty.isEmpty() {
		t.Fatalf("span released in part should move to nonempty, not be handed back")
	}
	if !b.empty.isEmpty() {
		t.Fatalf("span should have left the empty list once partially freed")
	}
}
