package tcgomalloc

import (
	"io"

	"github.com/sirupsen/logrus"
)

// config holds the values Option functions adjust before NewAllocator
// builds its tiers. Grounded on the teacher's package-level runtime
// tuning knobs (e.g. GOGC, debug.*), generalized here into an
// explicit, per-Allocator functional-options config instead of global
// variables, since this module supports multiple Allocator instances.
type config struct {
	os     osMemory
	logger *logrus.Logger
}

func defaultConfig() *config {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &config{
		os:     unixMemory{},
		logger: log,
	}
}

// Option configures a new Allocator.
type Option func(*config)

// WithOSMemory overrides the operating-system backing, primarily for
// tests that cannot rely on mmap (e.g. sandboxed environments).
func WithOSMemory(os osMemory) Option {
	return func(c *config) { c.os = os }
}

// WithLogger stores a caller-supplied logger on the Allocator in place
// of the discarding default. The Allocator itself emits no log lines:
// the allocate and deallocate paths never log, matching the teacher's
// own discipline of keeping mheap.go/mcentral.go/mcache.go free of
// logging calls.
func WithLogger(log *logrus.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithDebugLogger is a convenience for local debugging: a logger at
// debug level writing to the given writer.
func WithDebugLogger(w io.Writer) Option {
	return func(c *config) {
		log := logrus.New()
		log.SetOutput(w)
		log.SetLevel(logrus.DebugLevel)
		c.logger = log
	}
}
