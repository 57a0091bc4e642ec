package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		case_key     TEXT PRIMARY KEY,
		status       TEXT NOT NULL DEFAULT 'Open',
		criticality  REAL NOT NULL DEFAULT 0,
		payload      TEXT NOT NULL,
		last_updated DATETIME,
		saved_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
	CREATE INDEX IF NOT EXISTS idx_cases_criticality ON cases(criticality);

	CREATE TABLE IF NOT EXISTS cache_metadata (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_history (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id            TEXT NOT NULL UNIQUE,
		started_at        DATETIME NOT NULL,
		finished_at       DATETIME NOT NULL,
		cases_in_upload   INTEGER NOT NULL DEFAULT 0,
		stage_a_processed INTEGER NOT NULL DEFAULT 0,
		gate1_opened      INTEGER NOT NULL DEFAULT 0,
		stage_b_processed INTEGER NOT NULL DEFAULT 0,
		gate2_opened      INTEGER NOT NULL DEFAULT 0,
		stage_c_processed INTEGER NOT NULL DEFAULT 0,
		oracle_failures   INTEGER NOT NULL DEFAULT 0,
		health_score      REAL NOT NULL DEFAULT 0,
		base_health_score REAL NOT NULL DEFAULT 0,
		critical_cases    INTEGER NOT NULL DEFAULT 0,
		summary           TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_run_history_started ON run_history(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	// Migration: add clustering_penalty column if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('run_history') WHERE name = 'clustering_penalty'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE run_history ADD COLUMN clustering_penalty REAL NOT NULL DEFAULT 0`)
	}

	return db, nil
}
