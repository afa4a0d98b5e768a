package tcgomalloc

import "sync"

// pageCache is the process-wide page allocator described in spec.md
// §4.5: an array of free span lists indexed by page count, a page-ID
// map used for coalescing and cell resolution, and a single mutex
// guarding all of it. Grounded on the teacher's mheap (mheap.go):
// free/freelarge become one array sized MaxPages (spec.md fixes the
// oversize threshold at MaxPages instead of the teacher's open-ended
// freelarge list with best-fit search), allocSpanLocked/grow become
// newSpanLocked, and freeSpanLocked's forward/backward coalescing
// loop is carried over unchanged in shape.
type pageCache struct {
	mu   sync.Mutex
	free [MaxPages]spanList // free[0] unused; free[1..MaxPages-1] usable

	pages    *pageMap
	os       osMemory
	spanPool *fixedPool[span]
	stats    *AllocStats
}

func newPageCache(os osMemory, stats *AllocStats) *pageCache {
	pc := &pageCache{
		pages:    newPageMap(),
		os:       os,
		spanPool: newFixedPool[span](),
		stats:    stats,
	}
	for i := range pc.free {
		pc.free[i].init()
	}
	return pc
}

func (pc *pageCache) newSpanMeta() *span {
	s := pc.spanPool.get()
	*s = span{sizeClass: -1}
	return s
}

// FetchSpan returns a span of exactly k pages, locking the page
// cache's mutex for the duration. Used by the central cache (after it
// has released its own bucket mutex, per the CC-bucket -> PC lock
// ordering in spec.md §5) and by the oversize allocation path.
func (pc *pageCache) FetchSpan(k uintptr) *span {
	pc.mu.Lock()
	s := pc.newSpanLocked(k)
	pc.mu.Unlock()
	return s
}

// ReleaseSpan returns s to the page cache, coalescing with free
// neighbors, locking the page cache's mutex for the duration.
func (pc *pageCache) ReleaseSpan(s *span) {
	pc.mu.Lock()
	pc.releaseSpanLocked(s)
	pc.mu.Unlock()
}

// newSpanLocked implements spec.md §4.5's new_span. Caller holds pc.mu.
func (pc *pageCache) newSpanLocked(k uintptr) *span {
	if k >= MaxPages {
		return pc.oversizeFromOS(k)
	}

	if s := pc.free[k].popFront(); s != nil {
		pc.markInUse(s)
		return s
	}

	for n := k + 1; n < MaxPages; n++ {
		nSpan := pc.free[n].popFront()
		if nSpan == nil {
			continue
		}
		kSpan := pc.newSpanMeta()
		kSpan.pageID = nSpan.pageID
		kSpan.numPages = k

		nSpan.pageID += k
		nSpan.numPages -= k
		pc.free[nSpan.numPages].insertFront(nSpan)
		pc.installBoundary(nSpan)

		pc.markInUse(kSpan)
		return kSpan
	}

	// No larger free span: grow the heap with one OS-backed run of the
	// largest indexed size, file it as free, and retry — spec.md
	// §4.5 step 4.
	grown := pc.osSpan(MaxPages - 1)
	pc.installBoundary(grown)
	pc.free[grown.numPages].insertFront(grown)
	return pc.newSpanLocked(k)
}

// oversizeFromOS services a request for k >= MaxPages pages directly
// from the OS. The resulting span is never split or coalesced, so
// only its own page-id needs a map entry (spec.md §4.5 step 1 / §4.3).
func (pc *pageCache) oversizeFromOS(k uintptr) *span {
	s := pc.osSpan(k)
	s.isInUse = true
	pc.pages.set(s.pageID, s)
	if pc.stats != nil {
		pc.stats.addSpans(1)
	}
	return s
}

// osSpan obtains a fresh k-page run from the OS and wraps it in a new
// span with no page-map entries installed yet.
func (pc *pageCache) osSpan(k uintptr) *span {
	base, err := pc.os.Alloc(k)
	invariant("pageCache.osSpan", err == nil, "out of memory: "+errString(err))
	if pc.stats != nil {
		pc.stats.addSysBytes(int64(k * PageSize))
	}
	s := pc.newSpanMeta()
	s.pageID = base >> PageShift
	s.numPages = k
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// markInUse installs full interior page-map entries for every page
// of s (needed so the central cache can resolve any interior cell
// address back to s) and flips is_in_use, per spec.md §4.5 step 2/3
// and the Open Question 3 resolution in spec.md §9.
func (pc *pageCache) markInUse(s *span) {
	s.isInUse = true
	for p := s.pageID; p < s.pageID+s.numPages; p++ {
		pc.pages.set(p, s)
	}
	if pc.stats != nil {
		pc.stats.addSpans(1)
	}
}

// installBoundary installs page-map entries only for the first and
// last page of a free span, sufficient for coalescing lookups
// (spec.md §4.5's rationale: "we only ever read page-1 and page+n").
func (pc *pageCache) installBoundary(s *span) {
	pc.pages.set(s.pageID, s)
	if s.numPages > 1 {
		pc.pages.set(s.pageID+s.numPages-1, s)
	}
}

// releaseSpanLocked implements spec.md §4.5's release_span_to_page.
// Caller holds pc.mu.
func (pc *pageCache) releaseSpanLocked(s *span) {
	if pc.stats != nil {
		pc.stats.addSpans(-1)
	}
	if s.numPages >= MaxPages {
		invariant("pageCache.releaseSpanLocked", pc.os.Free(s.base(), s.numPages*PageSize) == nil, "system_free failed")
		pc.spanPool.put(s)
		return
	}

	for s.pageID > 0 {
		prev := pc.pages.get(s.pageID - 1)
		if prev == nil || prev.isInUse || s.numPages+prev.numPages > MaxPages-1 {
			break
		}
		pc.free[prev.numPages].remove(prev)
		s.pageID = prev.pageID
		s.numPages += prev.numPages
		pc.spanPool.put(prev)
	}

	for {
		next := pc.pages.get(s.pageID + s.numPages)
		if next == nil || next.isInUse || s.numPages+next.numPages > MaxPages-1 {
			break
		}
		pc.free[next.numPages].remove(next)
		s.numPages += next.numPages
		pc.spanPool.put(next)
	}

	s.isInUse = false
	s.freeList = 0
	s.freeLen = 0
	s.sizeClass = -1
	pc.free[s.numPages].insertFront(s)
	pc.installBoundary(s)
}
