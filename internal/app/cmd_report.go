package app

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"casewatch/internal/casestore"
	"casewatch/internal/config"
	"casewatch/internal/health"
	"casewatch/internal/storage/sqlite"
)

type statsView struct {
	Cache       casestore.Stats       `json:"cache"`
	Diagnostics casestore.Diagnostics `json:"diagnostics"`
	TopCases    []topCase             `json:"top_cases"`
}

type topCase struct {
	Key          string    `json:"key"`
	CustomerName string    `json:"customer_name,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	Criticality  float64   `json:"criticality"`
	LastUpdated  time.Time `json:"last_updated"`
}

func statsCmd() *cobra.Command {
	var (
		asJSON bool
		top    int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics and the most critical open cases",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(_ *cobra.Command, _ []string, rt *Runtime) error {
			view, err := rt.stats(top)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(rt.Out, view)
			}
			printStats(rt, view)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().IntVar(&top, "top", 10, "number of open cases to list by criticality")
	return cmd
}

func (r *Runtime) stats(top int) (statsView, error) {
	view := statsView{Cache: r.Store.Stats(), Diagnostics: r.Store.Diagnostics()}
	if top <= 0 {
		return view, nil
	}

	// The sqlite backend indexes criticality, so it answers without walking
	// the cache. The in-memory walk covers the JSON backend.
	if r.Cfg.StoreBackend == config.BackendSQLite && r.DB != nil {
		rows, err := sqlite.TopCases(r.DB, top)
		if err != nil {
			return view, fmt.Errorf("query top cases: %w", err)
		}
		for _, row := range rows {
			tc := topCase{Key: row.Key, Criticality: row.Criticality, LastUpdated: row.LastUpdated}
			if rec, ok := r.Store.Get(row.Key); ok {
				tc.CustomerName = rec.Meta.CustomerName
				tc.Stage = string(rec.Stage())
			}
			view.TopCases = append(view.TopCases, tc)
		}
		return view, nil
	}

	open := r.Store.All(false)
	sort.SliceStable(open, func(i, j int) bool { return open[i].CriticalityScore > open[j].CriticalityScore })
	if len(open) > top {
		open = open[:top]
	}
	for _, rec := range open {
		view.TopCases = append(view.TopCases, topCase{
			Key:          rec.Key,
			CustomerName: rec.Meta.CustomerName,
			Stage:        string(rec.Stage()),
			Criticality:  rec.CriticalityScore,
			LastUpdated:  rec.LastUpdated,
		})
	}
	return view, nil
}

func printStats(rt *Runtime, v statsView) {
	w := rt.Out
	c := v.Cache
	fmt.Fprintf(w, "Case cache (%s)\n", rt.Store.Location())
	fmt.Fprintf(w, "  Cases: %d (open %d, closed %d)\n", c.Total, c.Open, c.Closed)
	fmt.Fprintf(w, "  Messages: %d (scored customer %d)\n", c.Messages, c.ScoredMessages)
	fmt.Fprintf(w, "  Stages: %s\n", formatCounts(c.Stages))
	fmt.Fprintf(w, "  Quick scored: %d, timelines: %d (%d entries)\n", c.QuickScored, c.Timelines, c.TimelineEntries)
	if c.LastOpenUpload != nil {
		fmt.Fprintf(w, "  Last open upload: %s\n", c.LastOpenUpload.Format(time.RFC3339))
	}
	if c.LastClosedUpload != nil {
		fmt.Fprintf(w, "  Last closed upload: %s\n", c.LastClosedUpload.Format(time.RFC3339))
	}

	d := v.Diagnostics
	if d.LastLoad.Merged > 0 || d.LastLoad.Dropped > 0 || d.LastLoad.Recovered {
		fmt.Fprintf(w, "  Last load: merged %d, dropped %d, recovered %t\n", d.LastLoad.Merged, d.LastLoad.Dropped, d.LastLoad.Recovered)
	}
	if n := len(d.Gate2WithoutGate1); n > 0 {
		fmt.Fprintf(w, "  WARNING: %d cases passed gate 2 without gate 1\n", n)
	}
	if n := len(d.UndatedActivity); n > 0 {
		fmt.Fprintf(w, "  Undated activity: %d cases\n", n)
	}

	if len(v.TopCases) == 0 {
		return
	}
	fmt.Fprintln(w, "\nTop open cases:")
	tw := newTable(w)
	fmt.Fprintln(tw, "  CASE\tCUSTOMER\tSTAGE\tCRITICALITY\tUPDATED")
	for _, tc := range v.TopCases {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%.0f\t%s\n", tc.Key, truncate(tc.CustomerName, 28), tc.Stage, tc.Criticality, tc.LastUpdated.Format("2006-01-02"))
	}
	tw.Flush()
}

func attentionCmd() *cobra.Command {
	var (
		minRecent float64
		declining bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "attention",
		Short: "List open cases whose recent frustration needs attention",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(_ *cobra.Command, _ []string, rt *Runtime) error {
			window := rt.Cfg.RecentWindow()
			cases := rt.Store.CasesNeedingAttention(window, minRecent, declining)
			if asJSON {
				return printJSON(rt.Out, cases)
			}
			if len(cases) == 0 {
				fmt.Fprintf(rt.Out, "No open cases need attention in the last %d days\n", int(window/(24*time.Hour)))
				return nil
			}
			tw := newTable(rt.Out)
			fmt.Fprintln(tw, "CASE\tCUSTOMER\tRECENT\tHISTORICAL\tTREND\tRECENT MSGS\tDAYS SINCE")
			for _, m := range cases {
				since := "-"
				if m.DaysSinceLastMessage != nil {
					since = fmt.Sprint(*m.DaysSinceLastMessage)
				}
				fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\t%s\t%d\t%s\n", m.Key, truncate(m.CustomerName, 28),
					m.RecentFrustration, m.HistoricalFrustration, m.Trend, m.RecentMessages, since)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().Float64Var(&minRecent, "min", 6, "minimum recent frustration")
	cmd.Flags().BoolVar(&declining, "declining", false, "include cases trending worse regardless of level")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func healthCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Compute the portfolio health score from cached cases",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(_ *cobra.Command, _ []string, rt *Runtime) error {
			report := health.Compute(rt.Store.All(false), rt.now(), rt.gateConfig().Health)
			if asJSON {
				return printJSON(rt.Out, report)
			}
			printHealth(rt.Out, report)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(_ *cobra.Command, _ []string, rt *Runtime) error {
			if rt.DB == nil {
				return errors.New("run history is unavailable without a database")
			}
			runs, err := sqlite.RecentRuns(rt.DB, limit)
			if err != nil {
				return fmt.Errorf("query run history: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(rt.Out, "No runs recorded yet")
				return nil
			}
			tw := newTable(rt.Out)
			fmt.Fprintln(tw, "RUN\tSTARTED\tCASES\tGATE1\tGATE2\tFAILURES\tHEALTH\tCRITICAL")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.1f\t%d\n", r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.CasesInUpload, r.Gate1Opened, r.Gate2Opened, r.OracleFailures, r.HealthScore, r.CriticalCases)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}
