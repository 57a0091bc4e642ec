package scoring

import (
	"math"

	"casewatch/internal/domain"
)

const (
	MaxQuickScoreBonus = 170.0
	MaxTimelineBonus   = 10.0
)

// Inputs are the signals the criticality score is built from. A nil pointer
// or zero-valued categorical means the signal is not available yet and the
// component contributes 0.
type Inputs struct {
	Headline         *float64
	Peak             *float64
	FrustratedPct    *float64
	Severity         domain.Severity
	IssueClass       domain.IssueClass
	Resolution       domain.ResolutionOutlook
	SupportTier      domain.SupportTier
	InteractionCount int
	AgeDays          int
	EngagementRatio  *float64
	QuickScore       *domain.QuickScoreResult
	Timeline         *domain.Timeline
}

var severityPoints = map[domain.Severity]float64{
	domain.SeverityS1: 35,
	domain.SeverityS2: 25,
	domain.SeverityS3: 15,
	domain.SeverityS4: 5,
}

var issueClassPoints = map[domain.IssueClass]float64{
	domain.IssueSystemic:      30,
	domain.IssueEnvironmental: 15,
	domain.IssueComponent:     10,
	domain.IssueProcedural:    5,
}

var resolutionPoints = map[domain.ResolutionOutlook]float64{
	domain.OutlookChallenging:     15,
	domain.OutlookManageable:      8,
	domain.OutlookStraightforward: 0,
}

var tierPoints = map[domain.SupportTier]float64{
	domain.TierGold:   10,
	domain.TierSilver: 5,
	domain.TierBronze: 0,
}

var priorityBonus = map[domain.Priority]float64{
	domain.PriorityCritical: 20,
	domain.PriorityHigh:     10,
	domain.PriorityMedium:   5,
	domain.PriorityLow:      0,
}

// Score computes the full breakdown from scratch. Callers never patch a
// previous total.
func Score(in Inputs) domain.CriticalityBreakdown {
	var b domain.CriticalityBreakdown

	if in.Headline != nil {
		b.FrustrationBase = FrustrationBase(*in.Headline)
	}
	if in.Peak != nil {
		b.PeakBonus = PeakBonus(*in.Peak)
	}
	if in.FrustratedPct != nil {
		b.FrequencyBonus = FrequencyBonus(*in.FrustratedPct)
	}
	b.Frustration = b.FrustrationBase + b.PeakBonus + b.FrequencyBonus

	b.Severity = severityPoints[in.Severity]
	b.IssueClass = issueClassPoints[in.IssueClass]
	b.Resolution = resolutionPoints[in.Resolution]
	b.SupportTier = tierPoints[in.SupportTier]
	if in.InteractionCount > 0 {
		b.Volume = VolumePoints(in.InteractionCount)
	}
	b.Age = AgePoints(in.AgeDays)
	if in.EngagementRatio != nil {
		b.Engagement = EngagementPoints(*in.EngagementRatio)
	}
	if in.QuickScore != nil && in.QuickScore.Successful {
		b.QuickScoreBonus = QuickScoreBonus(*in.QuickScore)
	}
	if in.Timeline != nil {
		b.TimelineBonus = TimelineBonus(in.Timeline)
	}

	b.Total = b.Frustration + b.Severity + b.IssueClass + b.Resolution + b.SupportTier +
		b.Volume + b.Age + b.Engagement + b.QuickScoreBonus + b.TimelineBonus
	return b
}

// InputsFromRecord gathers everything the record currently knows.
func InputsFromRecord(rec *domain.CaseRecord) Inputs {
	in := Inputs{
		Severity:         rec.Meta.Severity,
		SupportTier:      rec.Meta.SupportTier,
		InteractionCount: rec.Meta.InteractionCount,
		AgeDays:          rec.Meta.AgeDays,
		EngagementRatio:  rec.Meta.EngagementRatio,
		QuickScore:       rec.QuickScore,
		Timeline:         rec.Timeline,
	}
	if in.InteractionCount == 0 {
		in.InteractionCount = len(rec.Messages)
	}
	if m, ok := Metrics(rec.CustomerScores()); ok {
		in.Headline = &m.Headline
		in.Peak = &m.Peak
		in.FrustratedPct = &m.FrustratedPct
	}
	if rec.Analysis != nil {
		in.IssueClass = rec.Analysis.IssueClass
		in.Resolution = rec.Analysis.ResolutionOutlook
	}
	return in
}

func ScoreRecord(rec *domain.CaseRecord) domain.CriticalityBreakdown {
	return Score(InputsFromRecord(rec))
}

// FrustrationBase maps the 0-10 headline score onto 0-50, steepest between
// 7 and 9.
func FrustrationBase(headline float64) float64 {
	s := clamp(headline, 0, 10)
	switch {
	case s >= 9:
		return 50
	case s >= 7:
		return 35 + (s-7)*7.5
	case s >= 5:
		return 20 + (s-5)*7.5
	case s >= 3:
		return 10 + (s-3)*5
	}
	return s * 10 / 3
}

func PeakBonus(peak float64) float64 {
	p := clamp(peak, 0, 10)
	switch {
	case p >= 9:
		return 25
	case p >= 7:
		return 15 + (p-7)*5
	case p >= 5:
		return 5 + (p-5)*5
	}
	return p
}

// FrequencyBonus maps the percentage of frustrated messages onto 0-25.
func FrequencyBonus(pct float64) float64 {
	p := clamp(pct, 0, 100)
	switch {
	case p >= 30:
		return 25
	case p >= 20:
		return 15 + (p - 20)
	case p >= 10:
		return 5 + (p - 10)
	}
	return p * 0.5
}

func VolumePoints(interactions int) float64 {
	switch {
	case interactions <= 5:
		return 5
	case interactions <= 10:
		return 10
	case interactions <= 20:
		return 20
	}
	return 30
}

func AgePoints(days int) float64 {
	switch {
	case days >= 90:
		return 10
	case days >= 60:
		return 7
	case days >= 30:
		return 5
	case days >= 14:
		return 3
	}
	return 0
}

func EngagementPoints(ratio float64) float64 {
	switch {
	case ratio >= 0.7:
		return 15
	case ratio >= 0.5:
		return 10
	case ratio >= 0.3:
		return 5
	}
	return 0
}

// QuickScoreBonus is frustration frequency plus half the damage frequency
// plus the priority bonus, bounded to [0, 170].
func QuickScoreBonus(q domain.QuickScoreResult) float64 {
	freq := clamp(q.FrustrationFrequency, 0, 100)
	damage := clamp(q.DamageFrequency, 0, 100)
	bonus := freq/100*100 + damage/100*50 + priorityBonus[q.Priority]
	return clamp(bonus, 0, MaxQuickScoreBonus)
}

func TimelineBonus(t *domain.Timeline) float64 {
	return clamp(t.FrustratedPercentage()/10, 0, MaxTimelineBonus)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
