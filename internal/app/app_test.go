package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewatch/internal/config"
	"casewatch/internal/domain"
	"casewatch/internal/gate"
	"casewatch/internal/integrations/llm"
	"casewatch/internal/scheduler"
	"casewatch/internal/scoring"
	"casewatch/internal/storage/sqlite"
)

var testNow = time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)

const openUpload = `{
  "cases": [
    {
      "case_number": "00042",
      "customer_name": "Acme Corp",
      "severity": "S2",
      "support_level": "Gold",
      "status": "Open",
      "case_age_days": 30,
      "messages": [
        {"date": "2026-03-17T10:00:00Z", "text": "This is unacceptable, production is down", "from_customer": true},
        {"date": "2026-03-17T12:00:00Z", "text": "We are looking into it", "from_customer": false},
        {"date": "2026-03-18T09:00:00Z", "text": "Still down, this is unacceptable"}
      ]
    },
    {
      "case_number": 77,
      "customer_name": "Globex",
      "severity": "S4",
      "status": "Open",
      "messages": [
        {"date": "2026-03-10", "text": "Thanks for the update", "from_customer": true}
      ]
    }
  ]
}`

// setupEnv points config loading at a temp dir so tests never read a real
// .env or config file.
func setupEnv(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing-config.yaml"))
	t.Setenv("STORE_BACKEND", backend)
	t.Setenv("STORE_PATH", filepath.Join(dir, "data", "case_cache.json"))
	t.Setenv("DB_PATH", filepath.Join(dir, "data", "casewatch.db"))
	t.Setenv("INBOX_DIR", filepath.Join(dir, "inbox"))
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ESCALATION_GLOSSARY_PATH", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_CHANNEL_ID", "")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type scriptedOracle struct {
	quickCalls    int
	timelineCalls int
}

func (o *scriptedOracle) ScoreMessages(_ context.Context, _ llm.CaseContext, msgs []llm.IndexedMessage) (llm.MessageScoring, error) {
	out := llm.MessageScoring{
		IssueClass:        domain.IssueComponent,
		ResolutionOutlook: domain.OutlookManageable,
		Successful:        true,
	}
	for _, m := range msgs {
		score := 1.0
		if strings.Contains(m.Text, "unacceptable") {
			score = 8
		}
		out.Scores = append(out.Scores, llm.MessageScore{MessageIndex: m.Index, Score: score})
	}
	return out, nil
}

func (o *scriptedOracle) QuickScore(context.Context, llm.QuickScoreRequest) (domain.QuickScoreResult, error) {
	o.quickCalls++
	return domain.QuickScoreResult{FrustrationFrequency: 20, DamageFrequency: 10, Priority: domain.PriorityMedium, Successful: true}, nil
}

func (o *scriptedOracle) GenerateTimeline(context.Context, llm.TimelineRequest) (llm.TimelineResult, error) {
	o.timelineCalls++
	return llm.TimelineResult{
		Entries:    []domain.TimelineEntry{{Label: "Message 1", FrustrationDetected: true}},
		Successful: true,
	}, nil
}

type recordingNotifier struct {
	results []gate.RunResult
	err     error
}

func (n *recordingNotifier) NotifyRun(result gate.RunResult) (bool, error) {
	n.results = append(n.results, result)
	return n.err == nil, n.err
}

func newTestRuntime(t *testing.T, backend string) (*Runtime, *scriptedOracle) {
	t.Helper()
	setupEnv(t, backend)
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	rt, err := newRuntime(cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	oracle := &scriptedOracle{}
	rt.now = func() time.Time { return testNow }
	rt.newOracle = func(config.Config) (llm.Oracle, error) { return oracle, nil }
	return rt, oracle
}

func TestProcessUploadPersistsAndRecordsRun(t *testing.T) {
	rt, oracle := newTestRuntime(t, config.BackendSQLite)
	notifier := &recordingNotifier{}
	rt.notifier = notifier
	dir := t.TempDir()
	openPath := writeFile(t, dir, "open.json", openUpload)
	closedPath := writeFile(t, dir, "closed.txt", "# nothing cached yet\n12345\n")

	result, err := rt.processUpload(context.Background(), openPath, closedPath)
	require.NoError(t, err)

	assert.Equal(t, 2, result.CasesInUpload)
	assert.Equal(t, 2, result.NewCases)
	assert.Equal(t, 1, result.Gate1Opened)
	assert.Equal(t, 1, oracle.quickCalls)
	require.Len(t, notifier.results, 1)
	assert.Equal(t, result.RunID, notifier.results[0].RunID)

	rec, ok := rt.Store.Get("42")
	require.True(t, ok)
	assert.True(t, rec.Gate1.Passed)
	assert.Len(t, rec.Messages, 3)
	assert.NotNil(t, rec.QuickScore)

	runs, err := sqlite.RecentRuns(rt.DB, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].RunID)
	assert.Equal(t, 2, runs[0].CasesInUpload)

	// A second runtime over the same files sees the saved cache.
	reopened, err := newRuntime(rt.Cfg, io.Discard)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Store.Metadata().TotalCases)
	again, ok := reopened.Store.Get("00042")
	require.True(t, ok)
	assert.Equal(t, rec.CriticalityScore, again.CriticalityScore)
}

func TestProcessUploadSecondRunIsIncremental(t *testing.T) {
	rt, oracle := newTestRuntime(t, config.BackendJSON)
	openPath := writeFile(t, t.TempDir(), "open.json", openUpload)

	_, err := rt.processUpload(context.Background(), openPath, "")
	require.NoError(t, err)
	second, err := rt.processUpload(context.Background(), openPath, "")
	require.NoError(t, err)

	assert.Equal(t, 0, second.NewCases)
	assert.Equal(t, 0, second.StageA.Succeeded)
	assert.Equal(t, 2, second.StageA.Unchanged)
	assert.Equal(t, 0, second.Gate1Opened)
	// Gate 1 stays open but the quick score is not repeated without new
	// customer messages.
	assert.Equal(t, 1, oracle.quickCalls)
	_, err = os.Stat(rt.Cfg.StorePath)
	assert.NoError(t, err)
}

func TestProcessUploadMarksClosedRows(t *testing.T) {
	rt, _ := newTestRuntime(t, config.BackendJSON)
	dir := t.TempDir()
	openPath := writeFile(t, dir, "open.json", openUpload)
	_, err := rt.processUpload(context.Background(), openPath, "")
	require.NoError(t, err)

	closedRow := `{"cases": [{"case_number": "77", "customer_name": "Globex", "status": "Closed - Resolved", "messages": []}]}`
	_, err = rt.processUpload(context.Background(), writeFile(t, dir, "open2.json", closedRow), "")
	require.NoError(t, err)

	rec, ok := rt.Store.Get("77")
	require.True(t, ok)
	assert.Equal(t, domain.StatusClosed, rec.Status)
	assert.Equal(t, 1, rt.Store.Metadata().OpenCases)
}

func TestProcessUploadMissingCredentialsTouchesNothing(t *testing.T) {
	rt, _ := newTestRuntime(t, config.BackendJSON)
	rt.newOracle = buildOracle
	openPath := writeFile(t, t.TempDir(), "open.json", openUpload)

	_, err := rt.processUpload(context.Background(), openPath, "")
	require.ErrorIs(t, err, config.ErrMissingCredentials)
	assert.Equal(t, 0, rt.Store.Metadata().TotalCases)
	_, statErr := os.Stat(rt.Cfg.StorePath)
	assert.True(t, os.IsNotExist(statErr), "store must not be written")
}

func TestNotifyFailureDoesNotFailRun(t *testing.T) {
	rt, _ := newTestRuntime(t, config.BackendJSON)
	rt.notifier = &recordingNotifier{err: errors.New("slack down")}
	openPath := writeFile(t, t.TempDir(), "open.json", openUpload)

	_, err := rt.processUpload(context.Background(), openPath, "")
	assert.NoError(t, err)
}

func TestResetCaseRecomputesCriticality(t *testing.T) {
	rt, _ := newTestRuntime(t, config.BackendJSON)
	openPath := writeFile(t, t.TempDir(), "open.json", openUpload)
	_, err := rt.processUpload(context.Background(), openPath, "")
	require.NoError(t, err)

	rec, _ := rt.Store.Get("42")
	require.True(t, rec.Gate1.Passed)
	withBonus := rec.CriticalityScore

	require.NoError(t, rt.resetCase("0042"))
	rec, _ = rt.Store.Get("42")
	assert.False(t, rec.Gate1.Passed)
	assert.False(t, rec.Gate2.Passed)
	assert.Nil(t, rec.QuickScore)
	assert.Nil(t, rec.Timeline)
	assert.Equal(t, scoring.ScoreRecord(rec).Total, rec.CriticalityScore)
	assert.Less(t, rec.CriticalityScore, withBonus)

	assert.Error(t, rt.resetCase("999"))
}

func TestStatsTopCasesBothBackends(t *testing.T) {
	for _, backend := range []string{config.BackendJSON, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			rt, _ := newTestRuntime(t, backend)
			openPath := writeFile(t, t.TempDir(), "open.json", openUpload)
			_, err := rt.processUpload(context.Background(), openPath, "")
			require.NoError(t, err)

			view, err := rt.stats(1)
			require.NoError(t, err)
			assert.Equal(t, 2, view.Cache.Total)
			require.Len(t, view.TopCases, 1)
			assert.Equal(t, "42", view.TopCases[0].Key)
			assert.Equal(t, "Acme Corp", view.TopCases[0].CustomerName)
		})
	}
}

func TestHandleJobDispatchesByKind(t *testing.T) {
	rt, _ := newTestRuntime(t, config.BackendJSON)
	dir := t.TempDir()

	require.NoError(t, rt.handleJob(context.Background(), scheduler.Job{Path: writeFile(t, dir, "open.json", openUpload), Kind: scheduler.KindOpen}))
	require.NoError(t, rt.handleJob(context.Background(), scheduler.Job{Path: writeFile(t, dir, "closed.json", `{"case_numbers": [42]}`), Kind: scheduler.KindClosed}))

	rec, ok := rt.Store.Get("42")
	require.True(t, ok)
	assert.Equal(t, domain.StatusClosed, rec.Status)

	err := rt.handleJob(context.Background(), scheduler.Job{Path: writeFile(t, dir, "bad.json", "not json"), Kind: scheduler.KindOpen})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Acme Corpo…", truncate("Acme Corporation", 11))
	assert.Equal(t, "Ü", truncate("Über", 1))
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandsAgainstEmptyCache(t *testing.T) {
	dir := setupEnv(t, config.BackendSQLite)

	out, err := executeRoot(t, "stats", "--json")
	require.NoError(t, err)
	var view statsView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 0, view.Cache.Total)

	out, err = executeRoot(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Portfolio health: 100.0/100")

	out, err = executeRoot(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet")

	out, err = executeRoot(t, "close", writeFile(t, dir, "closed.txt", "123\n456\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "Closed 0 cases")

	_, err = executeRoot(t, "reset", "123")
	assert.Error(t, err)

	_, err = executeRoot(t, "clear")
	assert.Error(t, err)
	out, err = executeRoot(t, "clear", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 0 cases")
}

func TestRunCommandRequiresCredentials(t *testing.T) {
	dir := setupEnv(t, config.BackendJSON)

	_, err := executeRoot(t, "run")
	assert.EqualError(t, err, "--open is required")

	_, err = executeRoot(t, "run", "--open", writeFile(t, dir, "open.json", openUpload))
	assert.ErrorIs(t, err, config.ErrMissingCredentials)
}
