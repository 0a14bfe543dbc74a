package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"thesis-tracker/internal/models"
)

// SQLiteSnapshot implements SnapshotStore using SQLite. It holds the last
// fetched remote snapshot so a restarted session renders last-known
// statuses without waiting for the first remote read.
type SQLiteSnapshot struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteSnapshot creates a new SQLite-backed snapshot cache.
func NewSQLiteSnapshot(dbPath string) (*SQLiteSnapshot, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteSnapshot{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteSnapshot) initSchema() error {
	schema := `
	-- Last fetched remote thesis snapshot
	CREATE TABLE IF NOT EXISTS theses (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		entry REAL,
		target REAL,
		stop REAL,
		status TEXT NOT NULL,
		notes TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		cached_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_theses_symbol ON theses(symbol);

	-- Sync bookkeeping
	CREATE TABLE IF NOT EXISTS sync_times (
		data_type TEXT PRIMARY KEY,
		synced_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot replaces the cached snapshot with the given theses.
func (s *SQLiteSnapshot) SaveSnapshot(ctx context.Context, theses []models.Thesis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM theses`); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO theses (id, symbol, entry, target, stop, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range theses {
		if t.ID == "" {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			t.ID, t.Symbol,
			nullFloat(t.Entry), nullFloat(t.Target), nullFloat(t.Stop),
			string(t.Status), t.Notes, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting thesis %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	s.SetLastSync("theses", time.Now())
	return nil
}

// LoadSnapshot returns the cached snapshot, oldest-created first.
func (s *SQLiteSnapshot) LoadSnapshot(ctx context.Context) ([]models.Thesis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, entry, target, stop, status, notes, created_at, updated_at
		FROM theses ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	var theses []models.Thesis
	for rows.Next() {
		var t models.Thesis
		var entry, target, stop sql.NullFloat64
		var status string
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Symbol, &entry, &target, &stop, &status, &t.Notes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning thesis: %w", err)
		}
		t.Entry = floatPtr(entry)
		t.Target = floatPtr(target)
		t.Stop = floatPtr(stop)
		t.Status = models.Status(status)
		t.LastKnownRemoteStatus = t.Status
		if createdAt.Valid {
			t.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			t.UpdatedAt = updatedAt.Time
		}
		theses = append(theses, t)
	}
	return theses, rows.Err()
}

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteSnapshot) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var t time.Time
	err := s.db.QueryRow(`SELECT synced_at FROM sync_times WHERE data_type = ?`, dataType).Scan(&t)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()
	return t
}

// SetLastSync records the last sync time for a data type.
func (s *SQLiteSnapshot) SetLastSync(dataType string, t time.Time) error {
	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sync_times (data_type, synced_at) VALUES (?, ?)
		ON CONFLICT(data_type) DO UPDATE SET synced_at = excluded.synced_at`,
		dataType, t)
	return err
}

// Close closes the underlying database.
func (s *SQLiteSnapshot) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
