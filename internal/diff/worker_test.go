package diff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/storage"
)

func TestWorker_ProcessesQueue(t *testing.T) {
	source := newFakeSource()
	source.ancestries["img"] = []string{"img"}
	source.files["img"] = []domain.FileInfo{file("/a")}

	store := createStore(t)
	blobs := storage.NewMemoryDriver()
	queue := NewQueue(store, 10, 10*time.Millisecond)
	worker := NewWorker(queue, NewLock(store), NewEngine(blobs, source), time.Minute, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, queue.Enqueue(ctx, "img"))

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		exists, err := blobs.Exists(ctx, storage.ImageDiffPath("img"))
		return err == nil && exists
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := createStore(t)
	queue := NewQueue(store, 10, 10*time.Millisecond)
	worker := NewWorker(queue, NewLock(store), NewEngine(storage.NewMemoryDriver(), newFakeSource()), time.Minute, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	assert.NoError(t, worker.Run(ctx))
}
