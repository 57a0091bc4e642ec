package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"casewatch/internal/casestore"
	"casewatch/internal/domain"
)

// DocumentStore keeps the case cache in sqlite, one row per case. Write
// replaces every row inside one transaction so a save is still all or
// nothing.
type DocumentStore struct {
	db   *sql.DB
	path string
}

func NewDocumentStore(db *sql.DB, path string) *DocumentStore {
	return &DocumentStore{db: db, path: path}
}

func (d *DocumentStore) Location() string { return "sqlite:" + d.path }

func (d *DocumentStore) Check() error {
	if err := d.db.Ping(); err != nil {
		return fmt.Errorf("%w: %v", casestore.ErrStoreUnavailable, err)
	}
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM cases`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", casestore.ErrStoreUnavailable, err)
	}
	return nil
}

// Read returns the stored cache. Rows whose payload no longer decodes are
// skipped with a warning; an unreadable metadata row makes the whole
// document corrupt.
func (d *DocumentStore) Read() (*domain.Cache, error) {
	cache := domain.NewCache()

	var mdPayload string
	err := d.db.QueryRow(`SELECT payload FROM cache_metadata WHERE id = 1`).Scan(&mdPayload)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("%w: read metadata: %v", casestore.ErrStoreUnavailable, err)
	default:
		if err := json.Unmarshal([]byte(mdPayload), &cache.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", casestore.ErrCorruptDocument, err)
		}
	}

	rows, err := d.db.Query(`SELECT case_key, payload FROM cases ORDER BY case_key`)
	if err != nil {
		return nil, fmt.Errorf("%w: read cases: %v", casestore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan case: %v", casestore.ErrStoreUnavailable, err)
		}
		var rec domain.CaseRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			log.Printf("WARNING: sqlite case=%s payload undecodable, skipping: %v", key, err)
			continue
		}
		cache.Cases[key] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", casestore.ErrStoreUnavailable, err)
	}
	return cache, nil
}

func (d *DocumentStore) Write(cache *domain.Cache) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", casestore.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cases`); err != nil {
		return fmt.Errorf("%w: clear cases: %v", casestore.ErrStoreUnavailable, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO cases (case_key, status, criticality, payload, last_updated)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, rec := range cache.Cases {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal case %s: %w", key, err)
		}
		if _, err := stmt.Exec(key, string(rec.Status), rec.CriticalityScore, string(payload), rec.LastUpdated); err != nil {
			return fmt.Errorf("insert case %s: %w", key, err)
		}
	}

	md, err := json.Marshal(cache.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO cache_metadata (id, payload) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		string(md),
	); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return tx.Commit()
}

// TopCases lists open cases by stored criticality without decoding the whole
// cache.
func TopCases(db *sql.DB, limit int) ([]CaseSummary, error) {
	rows, err := db.Query(
		`SELECT case_key, status, criticality, last_updated FROM cases
		 WHERE status = ? ORDER BY criticality DESC, case_key LIMIT ?`,
		string(domain.StatusOpen), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CaseSummary
	for rows.Next() {
		var c CaseSummary
		var lastUpdated sql.NullTime
		if err := rows.Scan(&c.Key, &c.Status, &c.Criticality, &lastUpdated); err != nil {
			return nil, err
		}
		if lastUpdated.Valid {
			c.LastUpdated = lastUpdated.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
