package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"casewatch/internal/casestore"
	"casewatch/internal/domain"
)

func testDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "casewatch.db")
	db, err := InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestInitDBIsIdempotent(t *testing.T) {
	db, path := testDB(t)
	db.Close()
	again, err := InitDB(path)
	if err != nil {
		t.Fatalf("second InitDB: %v", err)
	}
	defer again.Close()

	var colCount int
	if err := again.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('run_history') WHERE name = 'clustering_penalty'`).Scan(&colCount); err != nil {
		t.Fatal(err)
	}
	if colCount != 1 {
		t.Fatalf("expected clustering_penalty column, got count=%d", colCount)
	}
}

func TestDocumentStoreBacksCaseStore(t *testing.T) {
	db, path := testDB(t)
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store, err := casestore.Open(NewDocumentStore(db, path), casestore.WithClock(clock))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	score := 8.0
	store.Upsert("00090406", domain.CaseMeta{CustomerName: "Acme", Severity: domain.SeverityS1})
	store.AppendMessages("90406", []domain.MessageEntry{{Date: now.Add(-time.Hour), FrustrationScore: &score, IsCustomer: true}})
	store.SetCriticality("90406", domain.CriticalityBreakdown{Total: 150})
	store.Upsert("88784", domain.CaseMeta{})
	store.MarkClosed([]string{"88784"})
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := casestore.Open(NewDocumentStore(db, path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, ok := reloaded.Get("90406")
	if !ok {
		t.Fatal("expected case 90406")
	}
	if rec.RunningFrustration.Peak != 8 || rec.Meta.CustomerName != "Acme" {
		t.Fatalf("unexpected record %+v", rec)
	}
	md := reloaded.Metadata()
	if md.TotalCases != 2 || md.ClosedCases != 1 || md.LastClosedUpload == nil {
		t.Fatalf("unexpected metadata %+v", md)
	}

	top, err := TopCases(db, 10)
	if err != nil {
		t.Fatalf("TopCases: %v", err)
	}
	if len(top) != 1 || top[0].Key != "90406" || top[0].Criticality != 150 {
		t.Fatalf("unexpected top cases %+v", top)
	}
}

func TestWriteReplacesPreviousRows(t *testing.T) {
	db, path := testDB(t)
	ds := NewDocumentStore(db, path)

	first := domain.NewCache()
	first.Cases["1"] = &domain.CaseRecord{Key: "1", Status: domain.StatusOpen}
	first.Cases["2"] = &domain.CaseRecord{Key: "2", Status: domain.StatusOpen}
	if err := ds.Write(first); err != nil {
		t.Fatal(err)
	}
	second := domain.NewCache()
	second.Cases["2"] = &domain.CaseRecord{Key: "2", Status: domain.StatusClosed}
	if err := ds.Write(second); err != nil {
		t.Fatal(err)
	}
	got, err := ds.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Cases) != 1 || got.Cases["2"].Status != domain.StatusClosed {
		t.Fatalf("expected only the second document, got %+v", got.Cases)
	}
}

func TestUndecodableRowIsSkipped(t *testing.T) {
	db, path := testDB(t)
	if _, err := db.Exec(`INSERT INTO cases (case_key, payload) VALUES ('1', '{broken')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO cases (case_key, payload) VALUES ('2', '{"key":"2","status":"Open"}')`); err != nil {
		t.Fatal(err)
	}
	cache, err := NewDocumentStore(db, path).Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(cache.Cases) != 1 {
		t.Fatalf("expected one decodable case, got %d", len(cache.Cases))
	}
}

func TestRunHistory(t *testing.T) {
	db, _ := testDB(t)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		err := InsertRun(db, RunRecord{
			RunID:             id,
			StartedAt:         base.Add(time.Duration(i) * time.Hour),
			FinishedAt:        base.Add(time.Duration(i)*time.Hour + time.Minute),
			CasesInUpload:     10 + i,
			Gate1Opened:       i,
			HealthScore:       70 - float64(i)*5,
			ClusteringPenalty: 0.1,
		})
		if err != nil {
			t.Fatalf("InsertRun %s: %v", id, err)
		}
	}
	runs, err := RecentRuns(db, 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-b" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}
	if runs[0].HealthScore != 65 || runs[0].CasesInUpload != 11 {
		t.Fatalf("unexpected run %+v", runs[0])
	}
	if err := InsertRun(db, RunRecord{RunID: "run-a", StartedAt: base, FinishedAt: base}); err == nil {
		t.Fatal("duplicate run id should be rejected")
	}
}
