package tcgomalloc

import "unsafe"

// A cell is a fixed-size slab of memory handed out to callers. While
// free, its first machine word holds a forward pointer to the next
// free cell in whatever list currently owns it; the rest of the cell
// is never touched by the allocator. cellPtr plays the same role the
// teacher's gclinkptr plays for mlink nodes: a pointer value that is
// opaque to the Go garbage collector, because the memory it addresses
// was obtained from the OS and is not part of any Go object the GC
// walks.
type cellPtr uintptr

type cellNode struct {
	next cellPtr
}

func (p cellPtr) ptr() *cellNode {
	return (*cellNode)(unsafe.Pointer(p))
}

func (p cellPtr) pointer() unsafe.Pointer {
	return unsafe.Pointer(p)
}

func cellPtrOf(p unsafe.Pointer) cellPtr {
	return cellPtr(uintptr(p))
}

// freeList is a singly linked, LIFO free list of cells, as described
// in spec §3: a head, a running length, and a per-bucket max_size
// watermark used only by thread-cache buckets (central-cache spans
// carry a free list without ever touching maxSize). Grounded on the
// teacher's mcache.alloc[]/mspan.freelist pairing (mcache.go,
// mcentral.go), generalized into one reusable type instead of
// special-casing thread-cache and central-cache list bookkeeping
// separately.
type freeList struct {
	head    cellPtr
	length  int
	maxSize int // only meaningful for thread-cache buckets; starts at 1
}

func (f *freeList) empty() bool { return f.head == 0 }
func (f *freeList) len() int    { return f.length }

// push adds a single cell to the front of the list.
func (f *freeList) push(c cellPtr) {
	c.ptr().next = f.head
	f.head = c
	f.length++
}

// pop removes and returns the front cell. The caller must ensure the
// list is non-empty.
func (f *freeList) pop() cellPtr {
	invariant("freeList.pop", f.head != 0, "pop on empty free list")
	c := f.head
	f.head = c.ptr().next
	f.length--
	return c
}

// pushRange links an already-connected [start, end] run of n cells
// onto the front of the list in one step (used when a thread cache
// files a whole batch fetched from the central cache).
func (f *freeList) pushRange(start, end cellPtr, n int) {
	end.ptr().next = f.head
	f.head = start
	f.length += n
}

// popRange detaches the first n cells as a connected [start, end] run
// and null-terminates end, leaving the remainder on f. Used by both
// TC's batch release to CC and CC's batch cut of a span's free list.
func (f *freeList) popRange(n int) (start, end cellPtr) {
	invariant("freeList.popRange", n > 0 && n <= f.length, "popRange count out of range")
	start = f.head
	end = start
	for i := 0; i < n-1; i++ {
		end = end.ptr().next
	}
	f.head = end.ptr().next
	end.ptr().next = 0
	f.length -= n
	return start, end
}
