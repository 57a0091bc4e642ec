package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"casewatch/internal/gate"
	"casewatch/internal/ingest"
	"casewatch/internal/integrations/llm"
	"casewatch/internal/storage/sqlite"
)

// applyClosed marks the cases listed in a closed upload and persists the
// store. It returns how many records changed.
func (r *Runtime) applyClosed(path string) (int, error) {
	keys, err := ingest.LoadClosed(path)
	if err != nil {
		return 0, err
	}
	changed := r.Store.MarkClosed(keys)
	if err := r.Store.Save(); err != nil {
		return changed, err
	}
	log.Printf("closed upload file=%s listed=%d changed=%d", path, len(keys), changed)
	return changed, nil
}

// processUpload runs one open upload through the gates. The closed upload,
// when given, is applied first. The store is saved even when the run stops
// early so completed work is not redone.
func (r *Runtime) processUpload(ctx context.Context, openPath, closedPath string) (gate.RunResult, error) {
	oracle, err := r.newOracle(r.Cfg)
	if err != nil {
		return gate.RunResult{}, err
	}

	if closedPath != "" {
		if _, err := r.applyClosed(closedPath); err != nil {
			return gate.RunResult{}, err
		}
	}

	upload, err := ingest.LoadOpen(openPath, r.now())
	if err != nil {
		return gate.RunResult{}, err
	}
	if len(upload.Closed) > 0 {
		n := r.Store.MarkClosed(upload.Closed)
		log.Printf("open upload rows marked closed listed=%d changed=%d", len(upload.Closed), n)
	}

	ctl := gate.New(r.Store, oracle, r.gateConfig(), gate.WithClock(r.now))
	result, runErr := ctl.Run(ctx, upload.Cases)
	if err := r.Store.Save(); err != nil {
		return result, err
	}
	if client, ok := oracle.(*llm.Client); ok {
		usage, calls := client.Usage()
		log.Printf("oracle usage run_id=%s calls=%d input_tokens=%d output_tokens=%d", result.RunID, calls, usage.InputTokens, usage.OutputTokens)
	}
	if runErr != nil {
		return result, runErr
	}

	r.recordRun(result)
	r.notify(result)
	return result, nil
}

func (r *Runtime) recordRun(result gate.RunResult) {
	if r.DB == nil {
		return
	}
	rec := sqlite.RunRecord{
		RunID:             result.RunID,
		StartedAt:         result.StartedAt,
		FinishedAt:        result.FinishedAt,
		CasesInUpload:     result.CasesInUpload,
		StageAProcessed:   result.StageA.Processed(),
		Gate1Opened:       result.Gate1Opened,
		StageBProcessed:   result.StageB.Processed(),
		Gate2Opened:       result.Gate2Opened,
		StageCProcessed:   result.StageC.Processed(),
		OracleFailures:    result.OracleFailures(),
		HealthScore:       result.Health.Score,
		BaseHealthScore:   result.Health.BaseScore,
		ClusteringPenalty: result.Health.Clustering.Penalty,
		CriticalCases:     result.Health.CriticalCases,
		Summary:           runSummary(result),
	}
	if err := sqlite.InsertRun(r.DB, rec); err != nil {
		log.Printf("WARNING: record run history run_id=%s: %v", result.RunID, err)
	}
}

func (r *Runtime) notify(result gate.RunResult) {
	if r.notifier == nil {
		return
	}
	if _, err := r.notifier.NotifyRun(result); err != nil {
		log.Printf("WARNING: slack notify run_id=%s: %v", result.RunID, err)
	}
}

func runSummary(result gate.RunResult) string {
	return fmt.Sprintf("stage_a=[%s] stage_b=[%s] stage_c=[%s] new_cases=%d escalations=%d",
		result.StageA, result.StageB, result.StageC, result.NewCases, len(result.Escalations))
}

func printRunResult(w io.Writer, result gate.RunResult) {
	fmt.Fprintf(w, "Run %s\n", result.RunID)
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "  Cases in upload: %d (new %d)\n", result.CasesInUpload, result.NewCases)
	fmt.Fprintf(w, "  Stage A:         %s unchanged=%d skipped=%d\n", result.StageA, result.StageA.Unchanged, result.StageA.Skipped)
	fmt.Fprintf(w, "  Gate 1 opened:   %d\n", result.Gate1Opened)
	fmt.Fprintf(w, "  Stage B:         %s\n", result.StageB)
	fmt.Fprintf(w, "  Gate 2 opened:   %d\n", result.Gate2Opened)
	fmt.Fprintf(w, "  Stage C:         %s\n", result.StageC)
	if n := result.OracleFailures(); n > 0 {
		fmt.Fprintf(w, "  Oracle failures: %d (malformed %d, rate limited %d)\n", n,
			result.StageA.Malformed+result.StageB.Malformed+result.StageC.Malformed,
			result.StageA.RateLimited+result.StageB.RateLimited+result.StageC.RateLimited)
	}
	fmt.Fprintln(w)
	printHealth(w, result.Health)
	if len(result.Escalations) > 0 {
		fmt.Fprintln(w, "\nEscalations:")
		for _, e := range result.Escalations {
			fmt.Fprintf(w, "  gate %d  %-10s %-24s %-8s criticality=%.0f peak=%.0f\n",
				e.Gate, e.Key, truncate(e.CustomerName, 24), e.Severity, e.Criticality, e.Peak)
		}
	}
}
