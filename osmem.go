package tcgomalloc

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// osMemory is the single contract this allocator has with the
// operating system (spec.md §6): given a page count, return a
// page-aligned, read/write virtual range; given a range and its
// length, release it. Everything above the page cache is built only
// in terms of this interface, mirroring the teacher's own split
// between mheap.go (which calls sysAlloc/sysFree) and the
// platform-specific mem_*.go files that implement them with raw
// mmap/munmap syscalls.
type osMemory interface {
	// Alloc returns the base address of a new, zero-filled mapping of
	// pages*PageSize bytes, or an error if the OS could not satisfy
	// the request.
	Alloc(pages uintptr) (base uintptr, err error)
	// Free releases a mapping previously returned by Alloc. size is
	// required because munmap needs the original length.
	Free(base, size uintptr) error
}

// unixMemory backs osMemory with golang.org/x/sys/unix's Mmap/Munmap,
// the same MAP_ANON|MAP_PRIVATE, PROT_READ|PROT_WRITE contract the
// teacher's mem_linux.go implements directly against the mmap(2)
// syscall (that file is not callable from ordinary Go code — it is
// wired into the runtime's own assembly trampolines — so this module
// reaches the identical contract through the ecosystem package other
// allocator-adjacent code in the example pack already depends on for
// raw mmap access).
type unixMemory struct{}

func (unixMemory) Alloc(pages uintptr) (uintptr, error) {
	n := int(pages * PageSize)
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, errors.Wrapf(err, "mmap %d pages", pages)
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

func (unixMemory) Free(base, size uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	if err := unix.Munmap(b); err != nil {
		return errors.Wrapf(err, "munmap %#x/%d", base, size)
	}
	return nil
}

// testMemory backs osMemory with ordinary Go heap byte slices,
// pinned for the process lifetime, for unit tests that must run
// without mmap access (sandboxed CI, non-Linux CI). It satisfies the
// same page-aligned contract by over-allocating and rounding the
// returned base up to a page boundary.
type testMemory struct {
	// keep holds every slice ever handed out so the GC cannot reclaim
	// the backing array out from under a span that still references it.
	keep [][]byte
}

func newTestMemory() *testMemory { return &testMemory{} }

func (m *testMemory) Alloc(pages uintptr) (uintptr, error) {
	n := int(pages*PageSize) + PageSize
	b := make([]byte, n)
	base := (uintptr(unsafe.Pointer(&b[0])) + PageSize - 1) &^ (PageSize - 1)
	m.keep = append(m.keep, b)
	return base, nil
}

func (m *testMemory) Free(base, size uintptr) error {
	// Nothing to do: the backing slice is released when the test
	// allocator itself is garbage collected.
	return nil
}
