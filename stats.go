package tcgomalloc

import "sync/atomic"

// AllocStats is a running snapshot of allocator activity: bytes
// obtained from the OS, bytes currently handed out to callers, and
// per-size-class allocation/free counts. It generalizes the teacher's
// memstats/by_size table (mheap.go, msize.go) into an explicit,
// exported type instead of a package-level global, since this
// allocator supports more than one Allocator instance per process.
type AllocStats struct {
	bytesFromOS int64
	bytesInUse  int64
	spansLive   int64
	allocCount  [Buckets]int64
	freeCount   [Buckets]int64
}

func (s *AllocStats) addSysBytes(n int64)  { atomic.AddInt64(&s.bytesFromOS, n) }
func (s *AllocStats) addInUseBytes(n int64) { atomic.AddInt64(&s.bytesInUse, n) }
func (s *AllocStats) addSpans(n int64)      { atomic.AddInt64(&s.spansLive, n) }

func (s *AllocStats) addAlloc(class int) { atomic.AddInt64(&s.allocCount[class], 1) }
func (s *AllocStats) addFree(class int)  { atomic.AddInt64(&s.freeCount[class], 1) }

// StatsSnapshot is a point-in-time, race-free copy of AllocStats
// suitable for printing or exporting.
type StatsSnapshot struct {
	BytesFromOS int64
	BytesInUse  int64
	SpansLive   int64
	AllocCount  [Buckets]int64
	FreeCount   [Buckets]int64
}

// Snapshot reads every counter with an atomic load. The result is not
// a single atomic instant across all fields, only per field, which is
// the same guarantee the teacher's own memstats reader
// (purgecachedstats plus direct field reads) provides.
func (s *AllocStats) Snapshot() StatsSnapshot {
	var out StatsSnapshot
	out.BytesFromOS = atomic.LoadInt64(&s.bytesFromOS)
	out.BytesInUse = atomic.LoadInt64(&s.bytesInUse)
	out.SpansLive = atomic.LoadInt64(&s.spansLive)
	for i := range s.allocCount {
		out.AllocCount[i] = atomic.LoadInt64(&s.allocCount[i])
		out.FreeCount[i] = atomic.LoadInt64(&s.freeCount[i])
	}
	return out
}
