package tcgomalloc

import (
	"testing"
	"unsafe"
)

// backingCells carves n 16-byte slots out of a pinned Go byte slice
// and returns their addresses as cellPtr, standing in for memory the
// allocator would normally obtain from a span's OS-backed pages.
func backingCells(n int) []cellPtr {
	buf := make([]byte, n*16)
	cells := make([]cellPtr, n)
	for i := 0; i < n; i++ {
		cells[i] = cellPtrOf(unsafe.Pointer(&buf[i*16]))
	}
	return cells
}

func TestFreeListPushPop(t *testing.T) {
	cells := backingCells(4)
	var f freeList
	for _, c := range cells {
		f.push(c)
	}
	if f.len() != 4 {
		t.Fatalf("len = %d, want 4", f.len())
	}
	// LIFO order
	for i := 3; i >= 0; i-- {
		c := f.pop()
		if c != cells[i] {
			t.Fatalf("pop order wrong at %d", i)
		}
	}
	if !f.empty() {
		t.Fatalf("expected empty free list")
	}
}

func TestFreeListPushPopRange(t *testing.T) {
	cells := backingCells(6)
	for i := 0; i < len(cells)-1; i++ {
		cells[i].ptr().next = cells[i+1]
	}
	cells[len(cells)-1].ptr().next = 0

	var f freeList
	f.pushRange(cells[0], cells[len(cells)-1], len(cells))
	if f.len() != len(cells) {
		t.Fatalf("len = %d, want %d", f.len(), len(cells))
	}

	start, end := f.popRange(3)
	if start != cells[0] {
		t.Fatalf("popRange start = %v, want %v", start, cells[0])
	}
	if end != cells[2] {
		t.Fatalf("popRange end = %v, want %v", end, cells[2])
	}
	if end.ptr().next != 0 {
		t.Fatalf("popRange did not null-terminate the detached run")
	}
	if f.len() != 3 {
		t.Fatalf("remaining len = %d, want 3", f.len())
	}
}

func TestFreeListPopPanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic popping an empty free list")
		}
	}()
	var f freeList
	f.pop()
}
