package health

import (
	"fmt"
	"sort"
	"time"

	"casewatch/internal/domain"
)

type ClusterCase struct {
	Key          string    `json:"key"`
	Criticality  float64   `json:"criticality"`
	LastActivity time.Time `json:"last_activity"`
	DaysAgo      int       `json:"days_ago"`
}

type Clustering struct {
	Detected    bool          `json:"detected"`
	Penalty     float64       `json:"penalty"`
	Cases       []ClusterCase `json:"cases,omitempty"`
	SpanDays    int           `json:"span_days"`
	Description string        `json:"description,omitempty"`
}

// ClusterPenalty looks for concerning cases (high criticality and in the top
// percentile of the portfolio) whose last activity falls inside the lookback
// window. The penalty grows with their count and shrinks with their spread.
// Cases with no activity date are ignored.
func ClusterPenalty(cases []*domain.CaseRecord, now time.Time, p Params) Clustering {
	if len(cases) == 0 {
		return Clustering{}
	}
	scores := make([]float64, len(cases))
	for i, c := range cases {
		scores[i] = c.CriticalityScore
	}
	threshold := Percentile(scores, p.ClusterPercentile)
	cutoff := now.Add(-p.ClusterLookback)

	var recent []ClusterCase
	for _, c := range cases {
		if c.CriticalityScore < p.ClusterMinCriticality || c.CriticalityScore < threshold {
			continue
		}
		last := c.LastActivity()
		if last == nil || last.Before(cutoff) {
			continue
		}
		recent = append(recent, ClusterCase{
			Key:          c.Key,
			Criticality:  c.CriticalityScore,
			LastActivity: *last,
			DaysAgo:      daysBetween(*last, now),
		})
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].LastActivity.Before(recent[j].LastActivity) })

	cl := Clustering{Cases: recent}
	lookbackDays := int(p.ClusterLookback / (24 * time.Hour))
	switch n := len(recent); {
	case n == 0:
		return Clustering{}
	case n == 1:
		cl.Penalty = 0.1
		cl.Description = fmt.Sprintf("1 concerning case in last %d days", lookbackDays)
	case n == 2:
		cl.SpanDays = daysBetween(recent[0].LastActivity, recent[1].LastActivity)
		switch {
		case cl.SpanDays <= 14:
			cl.Penalty = 0.4
		case cl.SpanDays <= 30:
			cl.Penalty = 0.25
		default:
			cl.Penalty = 0.15
		}
		cl.Description = fmt.Sprintf("2 concerning cases within %d days", cl.SpanDays)
	default:
		cl.SpanDays = daysBetween(recent[0].LastActivity, recent[n-1].LastActivity)
		switch {
		case cl.SpanDays <= 14:
			cl.Penalty = 0.7
		case cl.SpanDays <= 30:
			cl.Penalty = 0.5
		default:
			cl.Penalty = 0.3
		}
		cl.Description = fmt.Sprintf("%d concerning cases within %d days", n, cl.SpanDays)
	}
	cl.Detected = true
	return cl
}
