package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"casewatch/internal/health"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHealth(w io.Writer, r health.Report) {
	fmt.Fprintf(w, "Portfolio health: %.1f/100 (base %.1f)\n", r.Score, r.BaseScore)
	fmt.Fprintf(w, "  Open cases: %d, critical: %d\n", r.OpenCases, r.CriticalCases)
	c := r.Components
	fmt.Fprintf(w, "  Deductions: frustration %.1f, high frustration %.1f, critical load %.1f, systemic %.1f, challenging %.1f\n",
		c.Frustration, c.HighFrustration, c.CriticalLoad, c.Systemic, c.Challenging)
	if r.Override.Applied {
		fmt.Fprintf(w, "  Catastrophic override: %d cases, weight %.2f\n", r.Override.CatastrophicN, r.Override.Weight)
	}
	if r.Clustering.Detected {
		fmt.Fprintf(w, "  Clustering: -%.0f%% (%d cases over %d days) %s\n",
			r.Clustering.Penalty*100, len(r.Clustering.Cases), r.Clustering.SpanDays, r.Clustering.Description)
	}
	st := r.Stats
	if st.Analyzed > 0 {
		fmt.Fprintf(w, "  Frustration: analyzed %d (high %d, medium %d, low %d, none %d), mean %.1f, frustrated messages %.1f%%\n",
			st.Analyzed, st.High, st.Medium, st.Low, st.None, st.MeanHeadline, st.FrustratedPct)
	}
	if len(r.Distribution.Severity) > 0 {
		fmt.Fprintf(w, "  Severity: %s\n", formatCounts(r.Distribution.Severity))
	}
	if len(r.Distribution.IssueClass) > 0 {
		fmt.Fprintf(w, "  Issue class: %s\n", formatCounts(r.Distribution.IssueClass))
	}
}

func formatCounts[K ~string](m map[K]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[K(k)]))
	}
	return strings.Join(parts, " ")
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
