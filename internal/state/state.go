// Package state persists the baseline, conflict records and a bounded log in
// a single sqlite database between sync runs.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vaultsync/vaultsync/internal/sync"
)

const schema = `
CREATE TABLE IF NOT EXISTS baseline (
    path         TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL DEFAULT '',
    mod_time     TEXT NOT NULL DEFAULT '', -- RFC3339Nano, '' when unknown
    object_id    TEXT NOT NULL DEFAULT '',
    last_change  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS baseline_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
    path       TEXT PRIMARY KEY,
    id         TEXT NOT NULL,
    type       TEXT NOT NULL,
    reason     TEXT NOT NULL,
    policy     TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    level      TEXT NOT NULL,
    message    TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`

const (
	commitTipKey = "commit_tip"

	// logRetention caps the persisted log; oldest entries beyond it are
	// dropped on every append.
	logRetention = 1000
)

// Store is a sqlite-backed implementation of the engine's StateStore.
type Store struct {
	db *sqlx.DB
	mu gosync.Mutex
}

var _ sync.StateStore = (*Store)(nil)

// Open creates or opens the state database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type baselineRow struct {
	Path        string `db:"path"`
	ContentHash string `db:"content_hash"`
	ModTime     string `db:"mod_time"`
	ObjectID    string `db:"object_id"`
	LastChange  string `db:"last_change"`
}

// LoadBaseline reads the full baseline. A missing baseline is not an error,
// it loads as empty.
func (s *Store) LoadBaseline() (*sync.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := sync.NewBaseline()

	var tip string
	err := s.db.Get(&tip, "SELECT value FROM baseline_meta WHERE key = ?", commitTipKey)
	switch {
	case err == nil:
		b.CommitID = tip
	case errors.Is(err, sql.ErrNoRows):
		// Never synced yet.
	default:
		return nil, fmt.Errorf("load commit tip: %w", err)
	}

	var rows []baselineRow
	if err := s.db.Select(&rows, "SELECT path, content_hash, mod_time, object_id, last_change FROM baseline"); err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	for _, row := range rows {
		entry := &sync.BaselineEntry{
			Path:        row.Path,
			ContentHash: row.ContentHash,
			ObjectID:    row.ObjectID,
		}
		if entry.ModTime, err = parseTime(row.ModTime); err != nil {
			return nil, fmt.Errorf("baseline %s: %w", row.Path, err)
		}
		if entry.LastChange, err = parseTime(row.LastChange); err != nil {
			return nil, fmt.Errorf("baseline %s: %w", row.Path, err)
		}
		b.Entries[row.Path] = entry
	}
	return b, nil
}

// SaveBaseline replaces the stored baseline wholesale in one transaction.
func (s *Store) SaveBaseline(b *sync.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin baseline save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM baseline"); err != nil {
		return fmt.Errorf("clear baseline: %w", err)
	}
	for _, entry := range b.Entries {
		_, err := tx.Exec(
			"INSERT INTO baseline (path, content_hash, mod_time, object_id, last_change) VALUES (?, ?, ?, ?, ?)",
			entry.Path, entry.ContentHash, formatTime(entry.ModTime), entry.ObjectID, formatTime(entry.LastChange),
		)
		if err != nil {
			return fmt.Errorf("save baseline %s: %w", entry.Path, err)
		}
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO baseline_meta (key, value) VALUES (?, ?)",
		commitTipKey, b.CommitID,
	); err != nil {
		return fmt.Errorf("save commit tip: %w", err)
	}
	return tx.Commit()
}

type conflictRow struct {
	Path      string `db:"path"`
	ID        string `db:"id"`
	Type      string `db:"type"`
	Reason    string `db:"reason"`
	Policy    string `db:"policy"`
	CreatedAt string `db:"created_at"`
}

// SyncConflicts upserts the given records and removes persisted records not
// reproduced in the new set. A conflict that a later run no longer detects
// disappears without explicit tombstoning.
func (s *Store) SyncConflicts(records []sync.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin conflict sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM conflicts"); err != nil {
		return fmt.Errorf("clear conflicts: %w", err)
	}
	for _, rec := range records {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO conflicts (path, id, type, reason, policy, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			rec.Path, rec.ID, string(rec.Type), string(rec.Reason), string(rec.Policy), rec.Timestamp.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("save conflict %s: %w", rec.Path, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListConflicts() ([]sync.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []conflictRow
	if err := s.db.Select(&rows, "SELECT path, id, type, reason, policy, created_at FROM conflicts ORDER BY path"); err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}

	records := make([]sync.ConflictRecord, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("conflict %s: %w", row.Path, err)
		}
		records = append(records, sync.ConflictRecord{
			ID:        row.ID,
			Path:      row.Path,
			Type:      sync.ConflictType(row.Type),
			Reason:    sync.ConflictReason(row.Reason),
			Policy:    sync.Policy(row.Policy),
			Timestamp: ts,
		})
	}
	return records, nil
}

func (s *Store) DeleteConflict(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM conflicts WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("delete conflict %s: %w", path, err)
	}
	return nil
}

// LogEntry is one persisted log line.
type LogEntry struct {
	Level     string `db:"level"`
	Message   string `db:"message"`
	CreatedAt string `db:"created_at"`
}

// AppendLog records a structured log line, trimming entries beyond the
// retention cap.
func (s *Store) AppendLog(level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT INTO logs (level, message, created_at) VALUES (?, ?, ?)",
		level, message, time.Now().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if _, err := s.db.Exec(
		"DELETE FROM logs WHERE id <= (SELECT COALESCE(MAX(id), 0) FROM logs) - ?",
		logRetention,
	); err != nil {
		return fmt.Errorf("trim log: %w", err)
	}
	return nil
}

// ListLogs returns up to limit most recent log lines, oldest first.
func (s *Store) ListLogs(limit int) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []LogEntry
	err := s.db.Select(&entries,
		"SELECT level, message, created_at FROM logs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}
