package tcgomalloc

import "testing"

func TestTestMemoryAllocAligned(t *testing.T) {
	tm := newTestMemory()
	for _, pages := range []uintptr{1, 2, 16} {
		base, err := tm.Alloc(pages)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", pages, err)
		}
		if base%PageSize != 0 {
			t.Fatalf("base %#x not page aligned", base)
		}
	}
}

func TestTestMemoryRegionsUsable(t *testing.T) {
	tm := newTestMemory()
	base, err := tm.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	c := cellPtr(base)
	c.ptr().next = 0xdeadbeef
	if c.ptr().next != 0xdeadbeef {
		t.Fatalf("write to allocated region did not stick")
	}
	if err := tm.Free(base, PageSize); err != nil {
		t.Fatalf("Free: %v", err)
	}
}
