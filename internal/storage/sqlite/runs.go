package sqlite

import (
	"database/sql"
	"time"
)

type CaseSummary struct {
	Key         string
	Status      string
	Criticality float64
	LastUpdated time.Time
}

type RunRecord struct {
	ID                int64
	RunID             string
	StartedAt         time.Time
	FinishedAt        time.Time
	CasesInUpload     int
	StageAProcessed   int
	Gate1Opened       int
	StageBProcessed   int
	Gate2Opened       int
	StageCProcessed   int
	OracleFailures    int
	HealthScore       float64
	BaseHealthScore   float64
	ClusteringPenalty float64
	CriticalCases     int
	Summary           string
}

func InsertRun(db *sql.DB, r RunRecord) error {
	_, err := db.Exec(
		`INSERT INTO run_history (run_id, started_at, finished_at, cases_in_upload, stage_a_processed,
			gate1_opened, stage_b_processed, gate2_opened, stage_c_processed, oracle_failures,
			health_score, base_health_score, clustering_penalty, critical_cases, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt, r.FinishedAt, r.CasesInUpload, r.StageAProcessed,
		r.Gate1Opened, r.StageBProcessed, r.Gate2Opened, r.StageCProcessed, r.OracleFailures,
		r.HealthScore, r.BaseHealthScore, r.ClusteringPenalty, r.CriticalCases, r.Summary,
	)
	return err
}

// RecentRuns returns the latest runs, newest first.
func RecentRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	rows, err := db.Query(
		`SELECT id, run_id, started_at, finished_at, cases_in_upload, stage_a_processed,
			gate1_opened, stage_b_processed, gate2_opened, stage_c_processed, oracle_failures,
			health_score, base_health_score, clustering_penalty, critical_cases, summary
		 FROM run_history ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		err := rows.Scan(
			&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.CasesInUpload, &r.StageAProcessed,
			&r.Gate1Opened, &r.StageBProcessed, &r.Gate2Opened, &r.StageCProcessed, &r.OracleFailures,
			&r.HealthScore, &r.BaseHealthScore, &r.ClusteringPenalty, &r.CriticalCases, &r.Summary,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
