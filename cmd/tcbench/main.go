// Command tcbench drives a concurrent malloc/free workload against
// the allocator, the Go equivalent of original_source/bench_mark.cc's
// BenchmarkConcurrentMalloc. Each round allocates ntimes pointers and
// then frees every one of them, with the size it was allocated with,
// before the next round starts; Go's Deallocate must be given a
// matching size to resolve the right bucket.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"

	tcgomalloc "github.com/ffengc/tcgomalloc"
)

func main() {
	var (
		workers = flag.Int("workers", 4, "concurrent goroutines")
		rounds  = flag.Int("rounds", 10, "rounds per worker")
		ntimes  = flag.Int("ntimes", 1000, "malloc/free pairs per round")
		size    = flag.Uint64("size", 16, "bytes requested per allocation")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	a := tcgomalloc.NewAllocator(tcgomalloc.WithLogger(log))
	reqSize := uintptr(*size)

	var (
		wg                     sync.WaitGroup
		mallocNanos, freeNanos int64
		mallocMu, freeMu       sync.Mutex
	)

	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			tc := a.NewCache()
			defer a.ReleaseCache(tc)

			ptrs := make([]unsafe.Pointer, 0, *ntimes)
			for r := 0; r < *rounds; r++ {
				t0 := time.Now()
				for i := 0; i < *ntimes; i++ {
					p := a.Allocate(tc, reqSize)
					ptrs = append(ptrs, p)
				}
				mallocMu.Lock()
				mallocNanos += int64(time.Since(t0))
				mallocMu.Unlock()

				t1 := time.Now()
				for _, p := range ptrs {
					a.Deallocate(tc, p, reqSize)
				}
				freeMu.Lock()
				freeNanos += int64(time.Since(t1))
				freeMu.Unlock()
				ptrs = ptrs[:0]
			}
			log.WithField("worker", worker).Debug("finished")
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	ops := int64(*workers) * int64(*rounds) * int64(*ntimes)
	fmt.Printf("%d workers x %d rounds x %d allocs: malloc %v, free %v, wall %v (%d ops)\n",
		*workers, *rounds, *ntimes,
		time.Duration(mallocNanos), time.Duration(freeNanos), total, ops)

	snap := a.Stats()
	fmt.Printf("bytes from OS: %d  bytes in use: %d  live spans: %d\n",
		snap.BytesFromOS, snap.BytesInUse, snap.SpansLive)

	if snap.BytesInUse != 0 {
		fmt.Fprintf(os.Stderr, "warning: %d bytes still reported in use after full release\n", snap.BytesInUse)
	}
}
