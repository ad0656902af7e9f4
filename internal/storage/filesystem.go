package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
)

func init() {
	RegisterDriver("filesystem", func(cfg *config.StorageConfig) (Driver, error) {
		return NewFilesystemDriver(cfg.Filesystem.RootDir)
	})
}

// FilesystemDriver stores objects as files under a root directory, one file
// per key with the key's slash-separated segments as directories.
type FilesystemDriver struct {
	rootDir string
}

// NewFilesystemDriver creates a filesystem driver rooted at rootDir.
func NewFilesystemDriver(rootDir string) (*FilesystemDriver, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", rootDir, err)
	}

	log.Info().Str("root_dir", rootDir).Msg("Filesystem storage initialized")

	return &FilesystemDriver{rootDir: rootDir}, nil
}

func (d *FilesystemDriver) Name() string { return "filesystem" }

func (d *FilesystemDriver) path(key string) string {
	return filepath.Join(d.rootDir, filepath.FromSlash(key))
}

func (d *FilesystemDriver) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (d *FilesystemDriver) Put(_ context.Context, key string, content []byte) error {
	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (d *FilesystemDriver) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

func (d *FilesystemDriver) Remove(_ context.Context, key string) error {
	path := d.path(key)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if info.IsDir() {
		// A prefix with no stored objects under it does not exist as far
		// as the key space is concerned, even if the directory lingers.
		empty, err := d.dirIsEmpty(path)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", key, err)
		}
		if empty {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// dirIsEmpty reports whether the directory tree at path holds no files.
func (d *FilesystemDriver) dirIsEmpty(path string) (bool, error) {
	empty := true
	err := filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			empty = false
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return empty, nil
}

func (d *FilesystemDriver) Size(_ context.Context, key string) (int64, error) {
	info, err := os.Stat(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return 0, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return info.Size(), nil
}

func (d *FilesystemDriver) StreamRead(_ context.Context, key string, byteRange *ByteRange) (io.ReadCloser, error) {
	file, err := os.Open(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	if byteRange == nil {
		return file, nil
	}
	if _, err := file.Seek(byteRange.First, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek %s to %d: %w", key, byteRange.First, err)
	}
	return &limitedFile{
		Reader: io.LimitReader(file, byteRange.Length()),
		file:   file,
	}, nil
}

// limitedFile bounds reads to a byte range while keeping Close on the
// underlying file.
type limitedFile struct {
	io.Reader
	file *os.File
}

func (l *limitedFile) Close() error { return l.file.Close() }

func (d *FilesystemDriver) StreamWrite(_ context.Context, key string, source io.Reader) error {
	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	// Write to a uniquely named temporary file first so an interrupted
	// stream never leaves a half-written object at the final key, and
	// concurrent writers to the same key never share a file: each rename
	// publishes one complete stream, last writer wins.
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", key, err)
	}
	tmpPath := file.Name()

	written, err := io.Copy(file, source)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to stream %s: %w", key, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}

	log.Debug().Str("key", key).Int64("size", written).Msg("Stream written")
	return nil
}

func (d *FilesystemDriver) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(d.path(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, prefix)
		}
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, prefix)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, prefix+"/"+entry.Name())
	}
	return keys, nil
}

func (d *FilesystemDriver) SupportsRanges() bool { return true }
