package diff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Queue is a capped FIFO of image ids awaiting diff computation. When the
// cap is exceeded the oldest entries are dropped; a dropped diff is
// recomputed on demand at pull time, so losing queue entries is safe.
type Queue struct {
	store        *Store
	capacity     int
	pollInterval time.Duration
}

// NewQueue creates a queue over the shared store.
func NewQueue(store *Store, capacity int, pollInterval time.Duration) *Queue {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Queue{store: store, capacity: capacity, pollInterval: pollInterval}
}

// Enqueue appends an image id and trims the queue to its cap.
func (q *Queue) Enqueue(ctx context.Context, imageID string) error {
	_, err := q.store.db.ExecContext(ctx,
		`INSERT INTO diff_queue (image_id, enqueued_at) VALUES (?, ?)`,
		imageID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", imageID, err)
	}
	if q.capacity > 0 {
		_, err = q.store.db.ExecContext(ctx,
			`DELETE FROM diff_queue WHERE id NOT IN
				(SELECT id FROM diff_queue ORDER BY id DESC LIMIT ?)`,
			q.capacity)
		if err != nil {
			return fmt.Errorf("failed to trim queue: %w", err)
		}
	}
	log.Debug().Str("image_id", imageID).Msg("Diff computation enqueued")
	return nil
}

// Pop blocks until an image id is available or the context is done.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		imageID, ok, err := q.tryPop(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return imageID, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryPop(ctx context.Context) (string, bool, error) {
	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin pop: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id int64
	var imageID string
	err = tx.QueryRowContext(ctx,
		`SELECT id, image_id FROM diff_queue ORDER BY id LIMIT 1`).Scan(&id, &imageID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read queue head: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM diff_queue WHERE id = ?`, id); err != nil {
		return "", false, fmt.Errorf("failed to remove queue head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit pop: %w", err)
	}
	return imageID, true, nil
}

// Len returns the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diff_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}
