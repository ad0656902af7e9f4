package diff

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/stratumhq/stratum/internal/domain"
)

// Store is the shared SQLite database backing the diff queue and the
// distributed lock. SQLite's transactional conditional writes are the
// compare-and-set primitive the lock protocol needs, and the database file
// is shared between server processes and workers.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS diff_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	image_id    TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS diff_locks (
	image_id   TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// OpenStore opens (or creates) the queue/lock database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: queue database: %v", domain.ErrBackendUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: queue schema: %v", domain.ErrBackendUnavailable, err)
	}

	log.Info().Str("path", path).Msg("Diff queue database initialized")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
