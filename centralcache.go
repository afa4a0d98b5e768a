package tcgomalloc

import "sync"

// centralCacheBucket is one size class's share of the central cache:
// a mutex and two span lists (spans with free cells, spans fully
// checked out), exactly the teacher's mcentral (mcentral.go) split
// into nonempty/empty mSpanLists. One bucket is created per size
// class rather than per (size class, NUMA node) as some later runtime
// revisions do — spec.md does not call for NUMA awareness.
type centralCacheBucket struct {
	mu         sync.Mutex
	class      int
	elemSize   uintptr
	allocPages uintptr

	nonempty spanList // spans known to have at least one free cell
	empty    spanList // spans fully checked out to thread caches
}

// centralCache is the CC tier of spec.md §4.4: one bucket per size
// class, backed by a shared page cache for span acquisition and
// release. The critical discipline, carried over from the teacher's
// own mcentral_t/pageheap split, is that a bucket's mutex is always
// released before the shared page-cache mutex is acquired (spec.md
// §5's lock-ordering invariant) — growLocked and ReleaseRange below
// drop b.mu before ever touching cc.pages.
type centralCache struct {
	buckets [Buckets]centralCacheBucket
	sizes   *sizeClasses
	pages   *pageCache
}

func newCentralCache(sizes *sizeClasses, pages *pageCache) *centralCache {
	cc := &centralCache{sizes: sizes, pages: pages}
	for i := range cc.buckets {
		b := &cc.buckets[i]
		b.class = i
		b.elemSize = sizes.sizeOf(i)
		b.allocPages = sizes.pagesOf(i)
		b.nonempty.init()
		b.empty.init()
	}
	return cc
}

// FetchRange hands back exactly n cells of the given size class as a
// connected [start, end] singly linked run, cutting across as many
// spans as necessary. Grounded on spec.md §4.2/§4.4's
// fetch_from_central_cache / get_non_empty_span.
func (cc *centralCache) FetchRange(class int, n int) (start, end cellPtr) {
	b := &cc.buckets[class]
	b.mu.Lock()

	remaining := n
	for remaining > 0 {
		s := cc.nonEmptySpanLocked(b)
		sl := &freeList{head: s.freeList, length: s.freeLen}
		take := remaining
		if take > sl.len() {
			take = sl.len()
		}
		cs, ce := sl.popRange(take)
		s.freeList, s.freeLen = sl.head, sl.length
		s.useCount += take

		if start == 0 {
			start = cs
		} else {
			end.ptr().next = cs
		}
		end = ce
		remaining -= take

		if s.freeList == 0 {
			b.nonempty.remove(s)
			b.empty.insertFront(s)
		}
	}
	b.mu.Unlock()
	return start, end
}

// nonEmptySpanLocked returns a span from b with at least one free
// cell, growing the bucket from the page cache if necessary. Caller
// holds b.mu on entry and holds it again on return; growLocked drops
// it while calling into cc.pages and reacquires it afterwards.
func (cc *centralCache) nonEmptySpanLocked(b *centralCacheBucket) *span {
	if s := b.nonempty.first(); s != nil {
		return s
	}
	return cc.growLocked(b)
}

// growLocked implements spec.md §4.4's grow/new_span path: release
// the bucket mutex, fetch a fresh span of allocPages from the page
// cache, carve it into cells of this bucket's size, then reacquire
// the bucket mutex before filing it. This is the one place a
// centralCacheBucket's lock is dropped and retaken, which is what
// makes the CC -> PC lock ordering invariant (spec.md §5) hold: no
// code path ever acquires cc.pages.mu while still holding b.mu.
func (cc *centralCache) growLocked(b *centralCacheBucket) *span {
	b.mu.Unlock()
	s := cc.pages.FetchSpan(b.allocPages)
	s.carve(b.elemSize, b.class)
	b.mu.Lock()

	b.nonempty.insertFront(s)
	return s
}

// ReleaseRange returns a connected [start, end] run of n cells to
// their owning spans, resolving each cell's span via the shared page
// map. Spans that were fully checked out move from empty to nonempty,
// and — if every cell of the span is now free — are detached and handed
// back to the page cache, mirroring mcentral.go's MCentral_FreeSpan.
func (cc *centralCache) ReleaseRange(class int, start cellPtr, n int) {
	b := &cc.buckets[class]

	type perSpan struct {
		s          *span
		head, tail cellPtr
		count      int
	}
	bySpan := map[*span]*perSpan{}
	order := make([]*span, 0, 4)

	cur := start
	for i := 0; i < n; i++ {
		next := cur.ptr().next
		s := cc.pages.pages.get(uintptr(cur) >> PageShift)
		invariant("centralCache.ReleaseRange", s != nil, "free of address with no owning span")
		ps, ok := bySpan[s]
		if !ok {
			ps = &perSpan{s: s}
			bySpan[s] = ps
			order = append(order, s)
		}
		cur.ptr().next = ps.head
		if ps.head == 0 {
			ps.tail = cur
		}
		ps.head = cur
		ps.count++
		cur = next
	}

	var toRelease []*span

	b.mu.Lock()
	for _, s := range order {
		ps := bySpan[s]
		wasFull := s.freeList == 0
		ps.tail.ptr().next = s.freeList
		s.freeList = ps.head
		s.freeLen += ps.count
		s.useCount -= ps.count
		invariant("centralCache.ReleaseRange", s.useCount >= 0, "use count underflow")

		if wasFull {
			b.empty.remove(s)
			b.nonempty.insertFront(s)
		}
		if s.useCount == 0 {
			b.nonempty.remove(s)
			toRelease = append(toRelease, s)
		}
	}
	b.mu.Unlock()

	for _, s := range toRelease {
		cc.pages.ReleaseSpan(s)
	}
}
