package storage

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/stratumhq/stratum/internal/kvcache"
)

// CachedDriver wraps a Driver with a best-effort read-through/write-through
// key-value cache. Only Get, Put and Remove are cached; streaming and
// listing always go straight to the inner driver. A failing cache backend is
// logged and treated as a miss or no-op, never surfaced to the caller.
type CachedDriver struct {
	inner Driver
	cache kvcache.Store
}

// NewCachedDriver composes a caching layer over inner.
func NewCachedDriver(inner Driver, cache kvcache.Store) *CachedDriver {
	return &CachedDriver{inner: inner, cache: cache}
}

func (d *CachedDriver) Name() string { return d.inner.Name() }

func (d *CachedDriver) Get(ctx context.Context, key string) ([]byte, error) {
	cached, hit, err := d.cache.Get(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to storage")
	} else if hit {
		return cached, nil
	}

	content, err := d.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		if err := d.cache.Set(key, content); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache populate failed")
		}
	}
	return content, nil
}

func (d *CachedDriver) Put(ctx context.Context, key string, content []byte) error {
	if err := d.cache.Set(key, content); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
	return d.inner.Put(ctx, key, content)
}

func (d *CachedDriver) Remove(ctx context.Context, key string) error {
	if err := d.cache.Delete(key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
	}
	return d.inner.Remove(ctx, key)
}

func (d *CachedDriver) Exists(ctx context.Context, key string) (bool, error) {
	return d.inner.Exists(ctx, key)
}

func (d *CachedDriver) Size(ctx context.Context, key string) (int64, error) {
	return d.inner.Size(ctx, key)
}

func (d *CachedDriver) StreamRead(ctx context.Context, key string, byteRange *ByteRange) (io.ReadCloser, error) {
	return d.inner.StreamRead(ctx, key, byteRange)
}

func (d *CachedDriver) StreamWrite(ctx context.Context, key string, source io.Reader) error {
	return d.inner.StreamWrite(ctx, key, source)
}

func (d *CachedDriver) List(ctx context.Context, prefix string) ([]string, error) {
	return d.inner.List(ctx, prefix)
}

func (d *CachedDriver) SupportsRanges() bool { return d.inner.SupportsRanges() }
