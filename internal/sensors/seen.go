package sensors

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SeenStore is the durable dedup set shared by all sensors, backed by
// SQLite under state/. Keys are namespaced per sensor so two sensors
// can observe the same string independently.
type SeenStore struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenSeenStore(path string) (*SeenStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open seen store: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS seen (
		sensor     TEXT NOT NULL,
		key        TEXT NOT NULL,
		first_seen DATETIME NOT NULL,
		PRIMARY KEY (sensor, key)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init seen store: %w", err)
	}
	return &SeenStore{db: db}, nil
}

// MarkIfNew records (sensor, key) and reports whether it was unseen.
// Subsequent calls with the same pair return false.
func (s *SeenStore) MarkIfNew(ctx context.Context, sensor, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen (sensor, key, first_seen) VALUES (?, ?, ?)`,
		sensor, key, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return n > 0, nil
}

// Count reports how many keys a sensor has recorded.
func (s *SeenStore) Count(ctx context.Context, sensor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen WHERE sensor = ?`, sensor).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return n, nil
}

func (s *SeenStore) Close() error {
	return s.db.Close()
}
