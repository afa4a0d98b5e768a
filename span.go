package tcgomalloc

// span describes a contiguous run of pages, exactly as spec.md §3: a
// starting page id, a page count, the free list carved out of it (if
// any), a use count, and the is-in-use flag that distinguishes a span
// owned by the central cache from one sitting on a page-cache free
// list. Grounded on the teacher's mspan (mheap.go), trimmed to the
// fields this allocator actually needs (no GC sweep generation, no
// stack-allocator state: those are Go-runtime concerns this allocator
// does not have).
type span struct {
	next, prev *span // spanList intrusive links
	list       *spanList

	pageID   uintptr // first page number; address = pageID << PageShift
	numPages uintptr

	freeList  cellPtr // head of cells carved from this span, 0 if intact
	freeLen   int     // length of freeList, kept for cheap use-count bookkeeping
	sizeClass int     // -1 for a page-cache span not yet handed to a bucket
	elemSize  uintptr

	useCount int  // cells currently out to a thread cache or caller
	isInUse  bool // true while held by the central cache, false on a page-cache free list
}

func (s *span) base() uintptr { return s.pageID << PageShift }

// capacity is how many cells of elemSize fit in this span.
func (s *span) capacity() int {
	if s.elemSize == 0 {
		return 0
	}
	return int((s.numPages << PageShift) / s.elemSize)
}

// carve links the whole span into a single freeList of cells of size
// elemSize, as spec.md §4.4's get_non_empty_span describes: "compute
// the page run's address range, link cells of exactly aligned_size
// bytes head-to-tail". Grounded on mcentral.go's grow().
func (s *span) carve(elemSize uintptr, class int) {
	invariant("span.carve", s.freeList == 0, "carve on a span with a non-empty free list")
	s.elemSize = elemSize
	s.sizeClass = class
	n := s.capacity()
	invariant("span.carve", n > 0, "span too small for its own element size")
	base := s.base()
	head := cellPtr(base)
	tail := head
	for i := 1; i < n; i++ {
		next := cellPtr(base + uintptr(i)*elemSize)
		tail.ptr().next = next
		tail = next
	}
	tail.ptr().next = 0
	s.freeList = head
	s.freeLen = n
}

// spanList is an intrusive, circular, doubly linked list of spans
// with a sentinel head node, following the teacher's mSpanList
// (mheap.go) exactly: the sentinel's next/prev links are never nil
// once initialized, and an empty list is one whose sentinel points to
// itself (first then returns nil).
type spanList struct {
	sentinel span
}

func (l *spanList) init() {
	l.sentinel.next = &l.sentinel
	l.sentinel.prev = &l.sentinel
}

func (l *spanList) isEmpty() bool { return l.sentinel.next == &l.sentinel }

func (l *spanList) first() *span {
	if l.isEmpty() {
		return nil
	}
	return l.sentinel.next
}

// insertAfter splices s in immediately after pos (pos defaults to the
// sentinel via insertFront/insertBack below).
func (l *spanList) insertAfter(pos, s *span) {
	invariant("spanList.insertAfter", s.list == nil, "span already on a list")
	n := pos.next
	pos.next = s
	s.prev = pos
	s.next = n
	n.prev = s
	s.list = l
}

func (l *spanList) insertFront(s *span) { l.insertAfter(&l.sentinel, s) }
func (l *spanList) insertBack(s *span)  { l.insertAfter(l.sentinel.prev, s) }

func (l *spanList) remove(s *span) {
	invariant("spanList.remove", s.list == l, "span not on this list")
	s.prev.next = s.next
	s.next.prev = s.prev
	s.next, s.prev, s.list = nil, nil, nil
}

// popFront removes and returns the first span, or nil if the list is
// empty.
func (l *spanList) popFront() *span {
	s := l.first()
	if s == nil {
		return nil
	}
	l.remove(s)
	return s
}

// forEach walks the list front to back. fn must not mutate the list.
func (l *spanList) forEach(fn func(*span) bool) {
	for s := l.sentinel.next; s != &l.sentinel; s = s.next {
		if !fn(s) {
			return
		}
	}
}
