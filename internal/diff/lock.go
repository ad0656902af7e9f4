package diff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lock is the optimistic distributed lock deduplicating diff computation
// across workers. A worker reads the current holder, proceeds only if the
// lock is absent or expired, and claims it with a conditional write. There
// is no explicit unlock: the lock simply expires, so a crashed worker can
// never wedge an image forever.
type Lock struct {
	store *Store
	owner string
}

// NewLock creates a lock handle with a unique owner token.
func NewLock(store *Store) *Lock {
	return &Lock{store: store, owner: uuid.NewString()}
}

// TryAcquire attempts to claim the lock for imageID for the given TTL.
// It returns false when another live worker holds it.
func (l *Lock) TryAcquire(ctx context.Context, imageID string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()

	// Optimistic read: skip the write entirely when someone clearly
	// holds an unexpired lock.
	var expiresAt int64
	err := l.store.db.QueryRowContext(ctx,
		`SELECT expires_at FROM diff_locks WHERE image_id = ?`, imageID).Scan(&expiresAt)
	if err == nil && expiresAt > now {
		return false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to read lock for %s: %w", imageID, err)
	}

	// Conditional write: only an absent or expired row can be claimed.
	// Losing the race here means another worker owns the image.
	result, err := l.store.db.ExecContext(ctx,
		`INSERT INTO diff_locks (image_id, owner, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(image_id) DO UPDATE
			SET owner = excluded.owner, expires_at = excluded.expires_at
			WHERE diff_locks.expires_at <= ?`,
		imageID, l.owner, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, fmt.Errorf("failed to claim lock for %s: %w", imageID, err)
	}
	claimed, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check lock claim for %s: %w", imageID, err)
	}
	return claimed > 0, nil
}

// Holder returns the current owner token and expiry for an image, for
// inspection in tests and tooling.
func (l *Lock) Holder(ctx context.Context, imageID string) (string, time.Time, error) {
	var owner string
	var expiresAt int64
	err := l.store.db.QueryRowContext(ctx,
		`SELECT owner, expires_at FROM diff_locks WHERE image_id = ?`, imageID).Scan(&owner, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read lock for %s: %w", imageID, err)
	}
	return owner, time.UnixMilli(expiresAt), nil
}
