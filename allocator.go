package tcgomalloc

import (
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// Allocator wires together the three tiers described in spec.md §4:
// a shared sizeClasses table, a shared pageCache, a shared
// centralCache, and however many ThreadCache handles callers choose
// to create. It is the Go realization of the teacher's single global
// mheap/allclasses pairing, generalized into an explicit,
// independently constructible value so a process can run more than
// one allocator (tests in particular construct a fresh one per case
// instead of sharing mutable global state, unlike the teacher's
// single package-level mheap_).
type Allocator struct {
	sizes   *sizeClasses
	pages   *pageCache
	central *centralCache
	stats   *AllocStats
	log     *logrus.Logger

	mu     sync.Mutex
	caches []*ThreadCache
}

// NewAllocator builds an Allocator ready to serve Allocate/Deallocate
// calls. By default it is backed by real OS memory (mmap/munmap via
// golang.org/x/sys/unix) and a discarding logger; both are overridable
// through Option values.
func NewAllocator(opts ...Option) *Allocator {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	a := &Allocator{
		sizes: newSizeClasses(),
		stats: &AllocStats{},
		log:   cfg.logger,
	}
	a.pages = newPageCache(cfg.os, a.stats)
	a.central = newCentralCache(a.sizes, a.pages)
	return a
}

// NewCache returns a fresh ThreadCache handle. Each handle is meant
// for use by a single goroutine at a time — its free lists carry no
// synchronization, exactly as the teacher's per-P mcache carries none
// — but nothing stops a caller from guarding a shared handle with its
// own mutex if it wants TC-level batching shared across goroutines
// instead of a TC per goroutine.
//
// This is the module's explicit answer to spec.md §4.2's thread-local
// thread cache: Go intentionally exposes no stable, portable
// goroutine identity to hang a cache off of (the scheduler is free to
// migrate a goroutine between OS threads at any safepoint), so rather
// than fight that with a goroutine-id hack this module asks the
// caller — who does know its own concurrency shape — to request and
// hold the handle explicitly.
func (a *Allocator) NewCache() *ThreadCache {
	tc := newThreadCache(a)
	a.mu.Lock()
	a.caches = append(a.caches, tc)
	a.mu.Unlock()
	return tc
}

// ReleaseCache flushes tc's cells back to the central cache and stops
// tracking it. Callers that are done with a ThreadCache for good
// should call this so its cells do not sit pinned out of the central
// cache indefinitely (mirrors mcache.go's freemcache).
func (a *Allocator) ReleaseCache(tc *ThreadCache) {
	tc.releaseAll()
	a.mu.Lock()
	for i, c := range a.caches {
		if c == tc {
			a.caches = append(a.caches[:i], a.caches[i+1:]...)
			break
		}
	}
	a.mu.Unlock()
}

// Allocate returns size bytes of page- or class-aligned memory as an
// unsafe.Pointer, following the split in spec.md §4.3: requests at or
// below MaxSmall go through tc's size-classed free list (growing it
// from the central cache as needed); larger requests go straight to
// the page cache as one dedicated span.
//
// Memory is zero-filled only the first time a given page is obtained
// from the OS; a cell or span handed back by a previous Deallocate
// may carry stale contents when reused, the same contract the
// teacher's mallocgc documents for its own fast path.
//
// tc may be nil only for oversize requests; small requests require a
// non-nil handle obtained from NewCache.
func (a *Allocator) Allocate(tc *ThreadCache, size uintptr) unsafe.Pointer {
	invariant("Allocator.Allocate", size > 0, "zero-size allocation")

	if size > MaxSmall {
		return a.allocateOversize(size)
	}
	invariant("Allocator.Allocate", tc != nil, "small allocation requires a ThreadCache")

	aligned := roundUpSize(size)
	class := a.sizes.classOf(aligned)
	c := tc.Allocate(class)
	a.stats.addAlloc(class)
	a.stats.addInUseBytes(int64(aligned))
	return c.pointer()
}

// Deallocate returns a pointer previously obtained from Allocate. The
// caller must pass back the same size (or at least one that maps to
// the same rounded class for a small allocation) it originally
// requested, since nothing in this design stores a live header next
// to each cell — the same economy the teacher's mcache.go free path
// relies on, pushing size bookkeeping onto the caller.
func (a *Allocator) Deallocate(tc *ThreadCache, p unsafe.Pointer, size uintptr) {
	if p == nil {
		return
	}
	if size > MaxSmall {
		a.deallocateOversize(p, size)
		return
	}
	invariant("Allocator.Deallocate", tc != nil, "small deallocation requires a ThreadCache")

	aligned := roundUpSize(size)
	class := a.sizes.classOf(aligned)
	tc.Deallocate(class, cellPtrOf(p))
	a.stats.addFree(class)
	a.stats.addInUseBytes(-int64(aligned))
}

// allocateOversize implements spec.md §4.3's oversize path: skip TC
// and CC entirely and take a dedicated span straight from the page
// cache, sized to the exact page count the request needs.
func (a *Allocator) allocateOversize(size uintptr) unsafe.Pointer {
	pages := (size + PageSize - 1) >> PageShift
	s := a.pages.FetchSpan(pages)
	a.stats.addInUseBytes(int64(size))
	return unsafe.Pointer(s.base())
}

// deallocateOversize resolves p back to its span through the shared
// page map and releases the whole span straight to the page cache
// (which, per spec.md §4.5, frees numPages >= MaxPages spans directly
// to the OS instead of filing them for coalescing).
func (a *Allocator) deallocateOversize(p unsafe.Pointer, size uintptr) {
	id := uintptr(p) >> PageShift
	s := a.pages.pages.get(id)
	invariant("Allocator.deallocateOversize", s != nil, "free of address with no owning span")
	a.stats.addInUseBytes(-int64(size))
	a.pages.ReleaseSpan(s)
}

// Stats returns a point-in-time snapshot of allocator activity.
func (a *Allocator) Stats() StatsSnapshot { return a.stats.Snapshot() }

var defaultAllocator = NewAllocator()

// Allocate and Deallocate below expose package-level convenience
// functions backed by a process-wide default Allocator, for callers
// that want tcmalloc-style global malloc/free semantics instead of
// managing an *Allocator themselves. DefaultCache lazily creates one
// ThreadCache per calling goroutine's first use is deliberately not
// provided — see Allocator.NewCache's doc comment for why this module
// does not attempt goroutine-scoped caches implicitly.

// NewCache requests a handle from the default Allocator.
func NewCache() *ThreadCache { return defaultAllocator.NewCache() }

// Allocate requests size bytes from the default Allocator using tc.
func Allocate(tc *ThreadCache, size uintptr) unsafe.Pointer {
	return defaultAllocator.Allocate(tc, size)
}

// Deallocate returns p, previously obtained from Allocate, to the
// default Allocator.
func Deallocate(tc *ThreadCache, p unsafe.Pointer, size uintptr) {
	defaultAllocator.Deallocate(tc, p, size)
}

// Stats snapshots the default Allocator's counters.
func Stats() StatsSnapshot { return defaultAllocator.Stats() }
