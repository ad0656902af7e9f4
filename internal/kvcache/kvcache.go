// Package kvcache provides the key-value cache backend used by the storage
// caching decorator. The cache is advisory: callers must treat every failure
// as a miss and carry on against the real store.
package kvcache

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/starskey-io/starskey"

	"github.com/stratumhq/stratum/internal/domain"
)

// Store is a minimal key-value cache. Get reports a miss through its bool
// result; an error means the backend itself is unhealthy.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// StarskeyStore backs the cache with an embedded Starskey database. Keys are
// prefixed with a namespace so multiple logical stores can share one
// database without collision.
type StarskeyStore struct {
	db        *starskey.Starskey
	namespace string
}

// OpenStarskey opens (or creates) a Starskey database at dir.
func OpenStarskey(dir, namespace string) (*StarskeyStore, error) {
	db, err := starskey.Open(&starskey.Config{
		Permission:        0o755,
		Directory:         dir,
		FlushThreshold:    64 * 1024 * 1024,
		MaxLevel:          3,
		SizeFactor:        10,
		BloomFilter:       true,
		SuRF:              false,
		Logging:           false,
		Compression:       true,
		CompressionOption: starskey.SnappyCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cache database: %v", domain.ErrBackendUnavailable, err)
	}

	log.Info().Str("directory", dir).Str("namespace", namespace).Msg("Cache backend initialized")

	return &StarskeyStore{db: db, namespace: namespace}, nil
}

func (s *StarskeyStore) key(key string) []byte {
	return []byte(s.namespace + ":" + key)
}

func (s *StarskeyStore) Get(key string) ([]byte, bool, error) {
	value, err := s.db.Get(s.key(key))
	if err != nil {
		return nil, false, err
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *StarskeyStore) Set(key string, value []byte) error {
	return s.db.Put(s.key(key), value)
}

func (s *StarskeyStore) Delete(key string) error {
	return s.db.Delete(s.key(key))
}

func (s *StarskeyStore) Close() error {
	return s.db.Close()
}
