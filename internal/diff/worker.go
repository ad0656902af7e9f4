package diff

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Worker drains the diff queue. Each popped image id is guarded by the
// distributed lock so concurrent workers never compute the same diff twice;
// queue or lock backend trouble is logged and retried, never fatal.
type Worker struct {
	queue       *Queue
	lock        *Lock
	engine      *Engine
	lockTTL     time.Duration
	concurrency int
}

// NewWorker creates a worker pool of the given concurrency.
func NewWorker(queue *Queue, lock *Lock, engine *Engine, lockTTL time.Duration, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       queue,
		lock:        lock,
		engine:      engine,
		lockTTL:     lockTTL,
		concurrency: concurrency,
	}
}

// Run blocks processing the queue until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Int("concurrency", w.concurrency).Msg("Diff worker starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		imageID, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("Queue pop failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.queue.pollInterval):
			}
			continue
		}

		w.process(ctx, imageID)
	}
}

func (w *Worker) process(ctx context.Context, imageID string) {
	acquired, err := w.lock.TryAcquire(ctx, imageID, w.lockTTL)
	if err != nil {
		log.Warn().Err(err).Str("image_id", imageID).Msg("Lock backend unavailable, skipping")
		return
	}
	if !acquired {
		log.Debug().Str("image_id", imageID).Msg("Diff already owned by another worker")
		return
	}

	if _, err := w.engine.Diff(ctx, imageID); err != nil {
		log.Error().Err(err).Str("image_id", imageID).Msg("Diff computation failed")
	}
}
