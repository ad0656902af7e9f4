package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
)

// testDrivers returns one instance of every backend that can run without
// external services.
func testDrivers(t *testing.T) map[string]Driver {
	t.Helper()

	fs, err := NewFilesystemDriver(t.TempDir())
	require.NoError(t, err)

	return map[string]Driver{
		"filesystem": fs,
		"memory":     NewMemoryDriver(),
	}
}

func TestDriver_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			content := []byte("some layer bytes")

			err := driver.Put(ctx, "images/abc/json", content)
			require.NoError(t, err)

			got, err := driver.Get(ctx, "images/abc/json")
			require.NoError(t, err)
			assert.Equal(t, content, got)

			size, err := driver.Size(ctx, "images/abc/json")
			require.NoError(t, err)
			assert.Equal(t, int64(len(content)), size)

			exists, err := driver.Exists(ctx, "images/abc/json")
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestDriver_GetNotFound(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := driver.Get(ctx, "images/nope/json")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			_, err = driver.Size(ctx, "images/nope/json")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			exists, err := driver.Exists(ctx, "images/nope/json")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestDriver_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, driver.Put(ctx, "k", []byte("old")))
			require.NoError(t, driver.Put(ctx, "k", []byte("new")))

			got, err := driver.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("new"), got)
		})
	}
}

func TestDriver_RemoveLeaf(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, driver.Put(ctx, "images/abc/json", []byte("x")))

			err := driver.Remove(ctx, "images/abc/json")
			require.NoError(t, err)

			_, err = driver.Get(ctx, "images/abc/json")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestDriver_RemoveMissing(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			err := driver.Remove(ctx, "images/nope/json")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestDriver_RemoveDirectoryRecursive(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, driver.Put(ctx, "repositories/lib/app/tag_latest", []byte("id1")))
			require.NoError(t, driver.Put(ctx, "repositories/lib/app/tag_stable", []byte("id2")))
			require.NoError(t, driver.Put(ctx, "repositories/lib/app/_images_list", []byte("[]")))

			err := driver.Remove(ctx, "repositories/lib/app")
			require.NoError(t, err)

			_, err = driver.Get(ctx, "repositories/lib/app/tag_latest")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			_, err = driver.Get(ctx, "repositories/lib/app/tag_stable")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			err = driver.Remove(ctx, "repositories/lib/app")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestDriver_RemoveEmptyPrefix(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, driver.Put(ctx, "images/abc/json", []byte("x")))
			require.NoError(t, driver.Remove(ctx, "images/abc/json"))

			// The prefix has no descendants left; whether an empty
			// directory lingers on disk is a backend detail.
			err := driver.Remove(ctx, "images/abc")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestDriver_StreamWriteRead(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			content := bytes.Repeat([]byte("0123456789"), 100)

			err := driver.StreamWrite(ctx, "images/abc/layer", bytes.NewReader(content))
			require.NoError(t, err)

			reader, err := driver.StreamRead(ctx, "images/abc/layer", nil)
			require.NoError(t, err)
			defer reader.Close()

			got, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, content, got)
		})
	}
}

func TestDriver_StreamReadNotFound(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := driver.StreamRead(ctx, "images/nope/layer", nil)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestDriver_List(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, driver.Put(ctx, "repositories/lib/app/tag_latest", []byte("id1")))
			require.NoError(t, driver.Put(ctx, "repositories/lib/app/tag_stable", []byte("id2")))

			keys, err := driver.List(ctx, "repositories/lib/app")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{
				"repositories/lib/app/tag_latest",
				"repositories/lib/app/tag_stable",
			}, keys)
		})
	}
}

func TestDriver_ListNotFound(t *testing.T) {
	ctx := context.Background()
	for name, driver := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := driver.List(ctx, "repositories/lib/nope")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestFilesystemDriver_ByteRanges(t *testing.T) {
	ctx := context.Background()
	driver, err := NewFilesystemDriver(t.TempDir())
	require.NoError(t, err)
	require.True(t, driver.SupportsRanges())

	content := []byte("abcdefghijklmnopqrstuvwxyz")
	require.NoError(t, driver.Put(ctx, "images/abc/layer", content))

	// Every valid window must match the slice of the original content.
	for first := int64(0); first < int64(len(content))-1; first++ {
		for last := first + 1; last < int64(len(content)); last++ {
			reader, err := driver.StreamRead(ctx, "images/abc/layer", &ByteRange{First: first, Last: last})
			require.NoError(t, err)

			got, err := io.ReadAll(reader)
			require.NoError(t, reader.Close())
			require.NoError(t, err)
			assert.Equal(t, content[first:last+1], got)
		}
	}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestFilesystemDriver_ConcurrentStreamWrites(t *testing.T) {
	ctx := context.Background()
	driver, err := NewFilesystemDriver(t.TempDir())
	require.NoError(t, err)

	slow := bytes.Repeat([]byte("A"), 4096)
	fast := bytes.Repeat([]byte("B"), 4096)

	// The slow writer stalls mid-stream while the fast writer completes a
	// full write to the same key, then finishes and wins the rename. The
	// stored object must be exactly one writer's bytes, never an
	// interleaving of both streams.
	stalled := make(chan struct{})
	release := make(chan struct{})
	slowStream := io.MultiReader(
		bytes.NewReader(slow[:2048]),
		readerFunc(func(_ []byte) (int, error) {
			close(stalled)
			<-release
			return 0, io.EOF
		}),
		bytes.NewReader(slow[2048:]),
	)

	done := make(chan error, 1)
	go func() { done <- driver.StreamWrite(ctx, "images/abc/layer", slowStream) }()

	<-stalled
	require.NoError(t, driver.StreamWrite(ctx, "images/abc/layer", bytes.NewReader(fast)))
	close(release)
	require.NoError(t, <-done)

	got, err := driver.Get(ctx, "images/abc/layer")
	require.NoError(t, err)
	assert.Equal(t, slow, got)
}

func TestMemoryDriver_IgnoresRanges(t *testing.T) {
	ctx := context.Background()
	driver := NewMemoryDriver()
	require.False(t, driver.SupportsRanges())

	content := []byte("abcdefghij")
	require.NoError(t, driver.Put(ctx, "k", content))

	reader, err := driver.StreamRead(ctx, "k", &ByteRange{First: 2, Last: 5})
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, got, "driver without range support reads from the start")
}

func TestByteRange_Validate(t *testing.T) {
	assert.NoError(t, ByteRange{First: 0, Last: 1}.Validate())
	assert.NoError(t, ByteRange{First: 10, Last: 99}.Validate())

	assert.ErrorIs(t, ByteRange{First: -1, Last: 5}.Validate(), domain.ErrInvalidRange)
	assert.ErrorIs(t, ByteRange{First: 0, Last: 0}.Validate(), domain.ErrInvalidRange)
	assert.ErrorIs(t, ByteRange{First: 5, Last: 5}.Validate(), domain.ErrInvalidRange)
	assert.ErrorIs(t, ByteRange{First: 6, Last: 5}.Validate(), domain.ErrInvalidRange)
}

func TestByteRange_Resolve(t *testing.T) {
	resolved := ByteRange{First: 4, Last: EndOfObject}.Resolve(100)
	assert.Equal(t, ByteRange{First: 4, Last: 99}, resolved)

	untouched := ByteRange{First: 4, Last: 10}.Resolve(100)
	assert.Equal(t, ByteRange{First: 4, Last: 10}, untouched)
}

func TestOpenDriver_UnknownScheme(t *testing.T) {
	_, err := OpenDriver(&config.StorageConfig{Driver: "bogus"})
	assert.Error(t, err)
}
