package health

import (
	"math"
	"sort"
	"time"

	"casewatch/internal/domain"
)

type Params struct {
	HighFrustration       float64
	CriticalThreshold     float64
	CatastrophicThreshold float64
	ClusterMinCriticality float64
	ClusterPercentile     float64
	ClusterLookback       time.Duration
}

func DefaultParams() Params {
	return Params{
		HighFrustration:       7,
		CriticalThreshold:     180,
		CatastrophicThreshold: 200,
		ClusterMinCriticality: 140,
		ClusterPercentile:     80,
		ClusterLookback:       60 * 24 * time.Hour,
	}
}

type Components struct {
	Frustration     float64 `json:"frustration"`
	HighFrustration float64 `json:"high_frustration"`
	CriticalLoad    float64 `json:"critical_load"`
	Systemic        float64 `json:"systemic"`
	Challenging     float64 `json:"challenging"`
}

func (c Components) Sum() float64 {
	return c.Frustration + c.HighFrustration + c.CriticalLoad + c.Systemic + c.Challenging
}

type Override struct {
	Applied        bool    `json:"applied"`
	Weight         float64 `json:"weight"`
	CatastrophicN  int     `json:"catastrophic_cases"`
	UndatedSkipped int     `json:"undated_skipped"`
}

type Report struct {
	Score         float64          `json:"score"`
	BaseScore     float64          `json:"base_score"`
	Components    Components       `json:"components"`
	Override      Override         `json:"override"`
	Clustering    Clustering       `json:"clustering"`
	Stats         FrustrationStats `json:"stats"`
	OpenCases     int              `json:"open_cases"`
	CriticalCases int              `json:"critical_cases"`
	Distribution  Distribution     `json:"distribution"`
}

// Compute scores the portfolio of open cases. Higher is healthier; an empty
// portfolio is fully healthy.
func Compute(cases []*domain.CaseRecord, now time.Time, p Params) Report {
	open := make([]*domain.CaseRecord, 0, len(cases))
	for _, c := range cases {
		if c.IsOpen() {
			open = append(open, c)
		}
	}

	report := Report{
		OpenCases:    len(open),
		Stats:        ComputeFrustrationStats(open, p.HighFrustration),
		Distribution: ComputeDistribution(open),
	}
	if len(open) == 0 {
		report.Components = Components{Frustration: 30, HighFrustration: 20, CriticalLoad: 20, Systemic: 15, Challenging: 15}
		report.BaseScore = 100
		report.Score = 100
		return report
	}

	total := float64(len(open))
	var critical, systemic, challenging int
	for _, c := range open {
		if c.CriticalityScore >= p.CriticalThreshold {
			critical++
		}
		if c.Analysis != nil && c.Analysis.IssueClass == domain.IssueSystemic {
			systemic++
		}
		if c.Analysis != nil && c.Analysis.ResolutionOutlook == domain.OutlookChallenging {
			challenging++
		}
	}
	report.CriticalCases = critical

	comp := Components{
		Frustration:     floor0(30 - 3*report.Stats.MeanHeadline),
		HighFrustration: floor0(20 - 100*float64(report.Stats.High)/total),
		CriticalLoad:    floor0(20 - 100*float64(critical)/total),
		Systemic:        floor0(15 - 75*float64(systemic)/total),
		Challenging:     floor0(15 - 75*float64(challenging)/total),
	}

	report.Override = catastrophicOverride(open, now, p)
	if report.Override.Applied {
		comp.HighFrustration *= 1 - report.Override.Weight
		comp.CriticalLoad *= 1 - report.Override.Weight
	}
	report.Components = comp
	report.BaseScore = clamp100(comp.Sum())

	report.Clustering = ClusterPenalty(open, now, p)
	report.Score = round1(clamp100(report.BaseScore * (1 - report.Clustering.Penalty)))
	report.BaseScore = round1(report.BaseScore)
	return report
}

// DecayWeight is the override weight of a catastrophic case whose last
// activity was daysAgo days before now.
func DecayWeight(daysAgo int) float64 {
	switch {
	case daysAgo <= 90:
		return 1.0
	case daysAgo <= 180:
		return 0.5
	case daysAgo <= 365:
		return 0.25
	}
	return 0
}

func catastrophicOverride(open []*domain.CaseRecord, now time.Time, p Params) Override {
	var o Override
	for _, c := range open {
		if c.CriticalityScore < p.CatastrophicThreshold {
			continue
		}
		o.CatastrophicN++
		last := c.LastActivity()
		if last == nil {
			o.UndatedSkipped++
			continue
		}
		if w := DecayWeight(daysBetween(*last, now)); w > o.Weight {
			o.Weight = w
		}
	}
	o.Applied = o.Weight > 0
	return o
}

// Percentile uses linear interpolation between closest ranks.
func Percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func daysBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func floor0(v float64) float64 { return math.Max(0, v) }

func clamp100(v float64) float64 { return math.Max(0, math.Min(100, v)) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
