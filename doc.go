// Package tcgomalloc implements a thread-caching memory allocator in the
// tcmalloc lineage: a per-goroutine/per-thread cache of small-object
// free-lists, backed by a shared central cache of spans, backed in turn
// by a process-wide page cache that carves multi-page spans out of
// memory obtained directly from the operating system.
//
// The three tiers mirror the Go runtime's own allocator (mcache,
// mcentral, mheap) closely enough that the naming below reads as a
// generalization of it: threadCache/centralCache/pageCache instead of
// mcache/mcentral/mheap, span instead of mspan, and a 3-level radix
// pageMap instead of the runtime's arena index.
//
// Callers obtain memory through an explicit per-thread cache handle
// (Allocator.NewCache) rather than through goroutine-local storage,
// which Go does not expose to user code. A package-level default
// Allocator and convenience NewCache/Allocate/Deallocate functions are
// provided for callers that do not want to construct and hold an
// *Allocator themselves; they still take a ThreadCache handle.
package tcgomalloc
