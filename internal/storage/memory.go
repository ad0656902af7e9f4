package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
)

func init() {
	RegisterDriver("memory", func(_ *config.StorageConfig) (Driver, error) {
		return NewMemoryDriver(), nil
	})
}

// MemoryDriver keeps every object in process memory. It deliberately does
// not support byte-range reads so callers exercise their full-read fallback;
// it is the reference backend for tests.
type MemoryDriver struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryDriver creates an empty in-memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{objects: make(map[string][]byte)}
}

func (d *MemoryDriver) Name() string { return "memory" }

func (d *MemoryDriver) Get(_ context.Context, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	content, ok := d.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (d *MemoryDriver) Put(_ context.Context, key string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := make([]byte, len(content))
	copy(stored, content)
	d.objects[key] = stored
	return nil
}

func (d *MemoryDriver) Exists(_ context.Context, key string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.objects[key]
	return ok, nil
}

func (d *MemoryDriver) Remove(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[key]; ok {
		delete(d.objects, key)
		return nil
	}
	// Directory removal: drop every descendant of the prefix.
	prefix := key + "/"
	removed := false
	for stored := range d.objects {
		if strings.HasPrefix(stored, prefix) {
			delete(d.objects, stored)
			removed = true
		}
	}
	if !removed {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return nil
}

func (d *MemoryDriver) Size(_ context.Context, key string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	content, ok := d.objects[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return int64(len(content)), nil
}

func (d *MemoryDriver) StreamRead(ctx context.Context, key string, _ *ByteRange) (io.ReadCloser, error) {
	// Ranges are not supported: always stream from the start.
	content, err := d.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (d *MemoryDriver) StreamWrite(ctx context.Context, key string, source io.Reader) error {
	content, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("failed to consume stream for %s: %w", key, err)
	}
	return d.Put(ctx, key, content)
}

func (d *MemoryDriver) List(_ context.Context, prefix string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range d.objects {
		if !strings.HasPrefix(key, prefix+"/") {
			continue
		}
		rest := strings.TrimPrefix(key, prefix+"/")
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		seen[prefix+"/"+rest] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, prefix)
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *MemoryDriver) SupportsRanges() bool { return false }
