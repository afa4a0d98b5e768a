package tcgomalloc

import "testing"

func TestFixedPoolGetUnique(t *testing.T) {
	p := newFixedPool[span]()
	seen := map[*span]bool{}
	for i := 0; i < defaultFixedPoolChunk*2+5; i++ {
		obj := p.get()
		if seen[obj] {
			t.Fatalf("fixedPool handed out the same pointer twice at i=%d", i)
		}
		seen[obj] = true
	}
}

func TestFixedPoolReusesFreed(t *testing.T) {
	p := newFixedPool[span]()
	a := p.get()
	p.put(a)
	b := p.get()
	if a != b {
		t.Fatalf("expected put/get to reuse the same pointer, got %p != %p", a, b)
	}
}

func TestFixedPoolAtomicTypesCompile(t *testing.T) {
	// Regression guard: fixedPool[T] must not struct-copy T on reuse,
	// or instantiating it over a type embedding sync/atomic.Pointer
	// fields (pmNode2, pmLeaf) would trip go vet's copylocks check.
	p := newFixedPool[pmLeaf]()
	leaf := p.get()
	leaf.spans[0].Store(&span{})
	p.put(leaf)
	leaf2 := p.get()
	if leaf2 != leaf {
		t.Fatalf("expected reuse of the freed leaf")
	}
	if leaf2.spans[0].Load() == nil {
		t.Fatalf("fixedPool.get must not clear a reused object's fields")
	}
}
