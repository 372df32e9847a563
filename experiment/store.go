package experiment

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryStore is an in-memory Store for tests and single-session use.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[[2]string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[[2]string]string)}
}

// Assignment implements Store.
func (m *MemoryStore) Assignment(_ context.Context, userID, experiment string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.assignments[[2]string{userID, experiment}]
	return v, ok, nil
}

// SaveAssignment implements Store.
func (m *MemoryStore) SaveAssignment(_ context.Context, userID, experiment, variant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[[2]string{userID, experiment}] = variant
	return nil
}

// SQLiteStore persists assignments in a SQLite database so they survive
// process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the assignment database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("experiment: sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Assignment implements Store.
func (s *SQLiteStore) Assignment(ctx context.Context, userID, experiment string) (string, bool, error) {
	var variant string
	err := s.db.QueryRowContext(ctx,
		"SELECT variant FROM assignments WHERE user_id=? AND experiment=?;",
		userID, experiment).Scan(&variant)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return variant, true, nil
}

// SaveAssignment implements Store.
func (s *SQLiteStore) SaveAssignment(ctx context.Context, userID, experiment, variant string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO assignments (user_id, experiment, variant, assigned_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, experiment) DO UPDATE SET variant=excluded.variant;`,
		userID, experiment, variant, time.Now().UTC())
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS assignments (
  user_id TEXT NOT NULL,
  experiment TEXT NOT NULL,
  variant TEXT NOT NULL,
  assigned_at DATETIME NOT NULL,
  PRIMARY KEY (user_id, experiment)
);`)
	return err
}
