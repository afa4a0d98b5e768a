package tcgomalloc

// fixedPool is a simple bump-pointer arena for fixed-type metadata
// objects, with LIFO reuse of freed objects — the Go generalization of
// the teacher's fixalloc (mfixalloc.go), used there to hand out
// *mspan and *mcache objects without recursing into the allocator it
// supports.
//
// Unlike mfixalloc, which threads its free list through the first
// word of each freed object (valid in C because the object's memory
// is otherwise unused once freed), this pool keeps an explicit slice
// of reclaimed pointers. Span and radix-tree node objects are
// ordinary Go values living on the Go heap, tracked normally by the
// garbage collector; overlaying a raw link pointer on top of them
// would fight the type system for no benefit, since — unlike cells —
// these objects are never routed through Allocate/Deallocate, so
// there is no recursion hazard to avoid by going off-heap for them.
type fixedPool[T any] struct {
	chunkLen int
	arena    []T // current chunk being carved by bump pointer
	free     []*T
}

const defaultFixedPoolChunk = 256

func newFixedPool[T any]() *fixedPool[T] {
	return &fixedPool[T]{chunkLen: defaultFixedPoolChunk}
}

// get returns a *T, possibly one reclaimed by put. As with the
// teacher's FixAlloc_Alloc, memory returned by get is not zeroed on
// the reuse path; callers that need a clean value must initialize
// every field they read.
func (p *fixedPool[T]) get() *T {
	if n := len(p.free); n > 0 {
		obj := p.free[n-1]
		p.free = p.free[:n-1]
		return obj
	}
	if len(p.arena) == 0 {
		p.arena = make([]T, p.chunkLen)
	}
	obj := &p.arena[0]
	p.arena = p.arena[1:]
	return obj
}

func (p *fixedPool[T]) put(obj *T) {
	p.free = append(p.free, obj)
}
