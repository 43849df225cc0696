// Package offline keeps the app usable without connectivity: a local task
// cache for reads and a durable queue of mutations made while disconnected,
// replayed through the API client when the network returns.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/scawful/halext-org-sub003/internal/api"
)

type Mutation struct {
	ID           string    `json:"id"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Body         []byte    `json:"body,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pending_mutations (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			body BLOB,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cached_tasks (
			id INTEGER PRIMARY KEY,
			payload TEXT NOT NULL,
			cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_mutations(created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func newMutationID() string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return fmt.Sprintf("mut_%s", id.String())
}

// Enqueue records a mutation for later replay. Order of replay follows order
// of creation.
func (s *Store) Enqueue(ctx context.Context, method, path string, body []byte) (*Mutation, error) {
	m := &Mutation{
		ID:        newMutationID(),
		Method:    method,
		Path:      path,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_mutations (id, method, path, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Method, m.Path, m.Body, m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) Pending(ctx context.Context) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, method, path, body, attempt_count, last_error, created_at
		 FROM pending_mutations ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		var m Mutation
		if err := rows.Scan(&m.ID, &m.Method, &m.Path, &m.Body, &m.AttemptCount, &m.LastError, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id)
	return err
}

func (s *Store) recordFailure(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_mutations SET attempt_count = attempt_count + 1, last_error = ? WHERE id = ?`,
		lastError, id,
	)
	return err
}

// CacheTasks replaces the local task snapshot.
func (s *Store) CacheTasks(ctx context.Context, tasks []api.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_tasks`); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range tasks {
		payload, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cached_tasks (id, payload, cached_at) VALUES (?, ?, ?)`,
			t.ID, string(payload), now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CachedTasks(ctx context.Context) ([]api.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM cached_tasks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Task
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t api.Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
