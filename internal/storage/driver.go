package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
)

// ByteRange is an inclusive pair of byte offsets. Last == EndOfObject means
// "to the end of the object" and must be resolved against the object's actual
// size before the range is validated or handed to a driver.
type ByteRange struct {
	First int64
	Last  int64
}

// EndOfObject is the sentinel Last value for an open-ended range.
const EndOfObject int64 = -1

// Resolve replaces an open-ended Last with the final byte offset of an
// object of the given size.
func (r ByteRange) Resolve(size int64) ByteRange {
	if r.Last == EndOfObject {
		r.Last = size - 1
	}
	return r
}

// Validate rejects ranges a driver must never see. A range is invalid when
// First is negative, Last is below 1, or the span covers fewer than 2 bytes.
// Validation is the caller's job, not the driver's.
func (r ByteRange) Validate() error {
	if r.First < 0 || r.Last < 1 || r.Length() < 2 {
		return fmt.Errorf("%w: %d-%d", domain.ErrInvalidRange, r.First, r.Last)
	}
	return nil
}

// Length returns the number of bytes the range spans.
func (r ByteRange) Length() int64 {
	return r.Last - r.First + 1
}

// Driver is the storage backend capability set. Every operation reports an
// absent key as domain.ErrNotFound, distinct from lower-level I/O failures.
type Driver interface {
	// Name returns the scheme name the driver was registered under.
	Name() string

	// Get returns the full content stored at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores content at key, replacing any previous content.
	Put(ctx context.Context, key string, content []byte) error

	// Exists reports whether key holds content.
	Exists(ctx context.Context, key string) (bool, error)

	// Remove deletes the object at key. When key is a common prefix of
	// other keys, every descendant is removed; a prefix with no
	// descendants, like an absent leaf, is domain.ErrNotFound.
	Remove(ctx context.Context, key string) error

	// Size returns the content length of the object at key.
	Size(ctx context.Context, key string) (int64, error)

	// StreamRead returns a reader over the object at key. A nil byteRange
	// reads the whole object. Drivers that do not support ranges ignore
	// byteRange and stream from the start; callers detect this through
	// SupportsRanges and slice the content themselves.
	StreamRead(ctx context.Context, key string, byteRange *ByteRange) (io.ReadCloser, error)

	// StreamWrite consumes source until exhaustion and stores the bytes
	// at key.
	StreamWrite(ctx context.Context, key string, source io.Reader) error

	// List returns the child keys directly under prefix, or
	// domain.ErrNotFound when there are none.
	List(ctx context.Context, prefix string) ([]string, error)

	// SupportsRanges reports whether StreamRead honors byte ranges.
	SupportsRanges() bool
}

// Factory constructs a driver from the storage configuration.
type Factory func(cfg *config.StorageConfig) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// RegisterDriver makes a driver constructor available under a scheme name.
// Backends register themselves from init.
func RegisterDriver(scheme string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[scheme]; dup {
		panic("storage: RegisterDriver called twice for scheme " + scheme)
	}
	drivers[scheme] = factory
}

// OpenDriver constructs the driver registered under cfg.Driver.
func OpenDriver(cfg *config.StorageConfig) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (registered: %v)", cfg.Driver, Schemes())
	}
	return factory(cfg)
}

// Schemes returns the registered driver scheme names, sorted.
func Schemes() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
