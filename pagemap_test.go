package tcgomalloc

import "testing"

func TestPageMapGetUnsetIsNil(t *testing.T) {
	m := newPageMap()
	if s := m.get(12345); s != nil {
		t.Fatalf("expected nil for an unset page id, got %v", s)
	}
}

func TestPageMapSetGet(t *testing.T) {
	m := newPageMap()
	s := &span{pageID: 42}
	m.set(42, s)
	if got := m.get(42); got != s {
		t.Fatalf("get(42) = %v, want %v", got, s)
	}
	if got := m.get(43); got != nil {
		t.Fatalf("get(43) should still be nil, got %v", got)
	}
}

func TestPageMapSparseIDs(t *testing.T) {
	m := newPageMap()
	ids := []uintptr{0, 1, 1 << 20, 1 << 30, (1 << 36) - 1}
	spans := make([]*span, len(ids))
	for i, id := range ids {
		spans[i] = &span{pageID: id}
		m.set(id, spans[i])
	}
	for i, id := range ids {
		if got := m.get(id); got != spans[i] {
			t.Fatalf("get(%d) = %v, want %v", id, got, spans[i])
		}
	}
}

func TestPageMapOverwrite(t *testing.T) {
	m := newPageMap()
	a, b := &span{}, &span{}
	m.set(7, a)
	m.set(7, b)
	if got := m.get(7); got != b {
		t.Fatalf("get(7) = %v, want overwritten %v", got, b)
	}
}
