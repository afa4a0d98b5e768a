package tcgomalloc

// ThreadCache is the TC tier of spec.md §4.2: one freeList per size
// class, accessed without any locking. The teacher realizes this as a
// per-P mcache reached through thread-local storage (mcache.go); Go
// has no portable, non-cgo equivalent of that pointer, so this
// allocator exposes TC as an explicit handle instead — see
// Allocator.NewCache. Everything past that difference — slow-start
// batch growth, the listTooLong release trigger — follows the
// teacher's refill()/MCache_ReleaseAll shape.
type ThreadCache struct {
	owner   *Allocator
	buckets [Buckets]freeList
}

func newThreadCache(a *Allocator) *ThreadCache {
	tc := &ThreadCache{owner: a}
	for i := range tc.buckets {
		tc.buckets[i].maxSize = 1
	}
	return tc
}

// Allocate returns a cell for a small request already rounded to its
// size class by the caller (Allocator.Allocate resolves size -> class
// before calling in). Grounded on the teacher's per-class mcache
// lookup and refill (mcache.go).
func (tc *ThreadCache) Allocate(class int) cellPtr {
	b := &tc.buckets[class]
	if b.empty() {
		tc.fetchFromCentralCache(class)
	}
	return b.pop()
}

// Deallocate returns a cell to its bucket and, once the bucket's
// length reaches the slow-start watermark, hands a batch of watermark
// cells back to the central cache.
// Grounded on spec.md §4.2's push-then-maybe-release description and
// the teacher's mcache.go free path.
func (tc *ThreadCache) Deallocate(class int, c cellPtr) {
	b := &tc.buckets[class]
	b.push(c)
	if b.len() >= listTooLong(b.maxSize) {
		tc.releaseToCentralCache(class, b.maxSize)
	}
}

// listTooLong mirrors spec.md §4.2's trigger: release once the bucket
// holds at least its current batch watermark, so a release always has
// a full batch's worth of cells to hand back.
func listTooLong(maxSize int) int {
	return maxSize
}

// fetchFromCentralCache implements the slow-start batching rule of
// spec.md §4.2: request batch = min(bucket.maxSize, central's own
// upper bound) cells; if the central cache grants the full amount
// requested, grow maxSize by one (capped at maxBatch) so future
// fetches pull progressively larger batches, exactly mirroring
// mcache.go's refill growth of the per-class allocation count.
func (tc *ThreadCache) fetchFromCentralCache(class int) {
	b := &tc.buckets[class]
	upper := batchUpperBound(tc.owner.sizes.sizeOf(class))
	batch := b.maxSize
	if batch > upper {
		batch = upper
	}
	start, end := tc.owner.central.FetchRange(class, batch)
	b.pushRange(start, end, batch)

	// FetchRange always grants the full batch requested in this
	// implementation (it grows the central cache rather than returning
	// a short count), so every fetch here is by definition the "batch
	// fully granted" case spec.md's slow start advances on.
	if b.maxSize < maxBatch {
		b.maxSize++
	}
}

// releaseToCentralCache hands a batch of n cells back to the central
// cache in one call, mirroring the teacher's mcache.releaseAll
// (mcache.go), generalized here to a partial release
// triggered by listTooLong instead of only at thread-cache teardown.
func (tc *ThreadCache) releaseToCentralCache(class int, n int) {
	b := &tc.buckets[class]
	start, _ := b.popRange(n)
	tc.owner.central.ReleaseRange(class, start, n)
}

// releaseAll hands every cell currently cached back to the central
// cache, called when a ThreadCache handle is discarded (spec.md §4.2,
// grounded on mcache.go's freemcache/MCache_ReleaseAll).
func (tc *ThreadCache) releaseAll() {
	for class := range tc.buckets {
		b := &tc.buckets[class]
		if b.len() == 0 {
			continue
		}
		n := b.len()
		start, _ := b.popRange(n)
		tc.owner.central.ReleaseRange(class, start, n)
	}
}
