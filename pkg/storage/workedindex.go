// Package storage owns the two persistence surfaces the engine touches
// directly: the append-only JSON-lines slot-pack archive
// and a small SQLite cache of callsigns already worked, so QSOStrategy's
// replyToWorkedStations/prioritizeNewCalls checks don't re-scan that
// archive. Both are grounded on the original daemon's
// pkg/storage/message_store.go: same connection-string busy-timeout/WAL
// pragmas, same begin/commit-with-rollback-deferred discipline, schema and
// index naming in the same style.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// WorkedStationIndex is an O(1) "have we logged a QSO with this callsign"
// lookup, fed by the same recordQSO event the external QSO log storage
// collaborator also receives. It is explicitly a local cache,
// not a replacement for that external logger.
type WorkedStationIndex struct {
	db *sql.DB
}

// NewWorkedStationIndex opens (creating if absent) a SQLite database at
// dbPath and ensures its schema exists.
func NewWorkedStationIndex(dbPath string) (*WorkedStationIndex, error) {
	if dbPath == "" {
		dbPath = "./worked.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("storage: worked index: create dir: %w", err)
		}
	}

	conn := dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, fmt.Errorf("storage: worked index: open: %w", err)
	}

	idx := &WorkedStationIndex{db: db}
	if err := idx.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (w *WorkedStationIndex) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worked_stations (
		callsign    TEXT NOT NULL,
		mode        TEXT NOT NULL,
		band        TEXT NOT NULL DEFAULT '',
		worked_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (callsign, mode, band)
	);
	CREATE INDEX IF NOT EXISTS idx_worked_stations_callsign ON worked_stations(callsign);
	`
	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("storage: worked index: create schema: %w", err)
	}
	return nil
}

// RecordQSO logs callsign as worked on mode/band, the same event the
// external QSO log storage collaborator receives. Safe to call more than once for the same callsign/mode/band.
func (w *WorkedStationIndex) RecordQSO(callsign, mode, band string, at time.Time) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: worked index: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO worked_stations (callsign, mode, band, worked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(callsign, mode, band) DO UPDATE SET worked_at = excluded.worked_at
	`, callsign, mode, band, at)
	if err != nil {
		return fmt.Errorf("storage: worked index: record: %w", err)
	}
	return tx.Commit()
}

// HasWorked reports whether callsign has been logged on any mode/band,
// satisfying operator.WorkedIndex.
func (w *WorkedStationIndex) HasWorked(callsign string) bool {
	var n int
	err := w.db.QueryRow("SELECT COUNT(*) FROM worked_stations WHERE callsign = ?", callsign).Scan(&n)
	return err == nil && n > 0
}

// HasWorkedOn reports whether callsign has been logged on the given
// mode/band pair specifically, for callers that care about per-band
// worked-before-confirmed policies.
func (w *WorkedStationIndex) HasWorkedOn(callsign, mode, band string) bool {
	var n int
	err := w.db.QueryRow(
		"SELECT COUNT(*) FROM worked_stations WHERE callsign = ? AND mode = ? AND band = ?",
		callsign, mode, band,
	).Scan(&n)
	return err == nil && n > 0
}

// Close closes the underlying database handle.
func (w *WorkedStationIndex) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}
