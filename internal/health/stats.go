package health

import (
	"casewatch/internal/domain"
	"casewatch/internal/scoring"
)

type FrustrationStats struct {
	Analyzed           int     `json:"analyzed"`
	High               int     `json:"high"`
	Medium             int     `json:"medium"`
	Low                int     `json:"low"`
	None               int     `json:"none"`
	MeanHeadline       float64 `json:"mean_headline"`
	MessagesAnalyzed   int     `json:"messages_analyzed"`
	FrustratedMessages int     `json:"frustrated_messages"`
	FrustratedPct      float64 `json:"frustrated_pct"`
}

// ComputeFrustrationStats buckets cases by headline score. Cases without any
// scored customer message are not analyzed and count in no bucket.
func ComputeFrustrationStats(cases []*domain.CaseRecord, highThreshold float64) FrustrationStats {
	var st FrustrationStats
	sum := 0.0
	for _, c := range cases {
		m, ok := scoring.Metrics(c.CustomerScores())
		if !ok {
			continue
		}
		st.Analyzed++
		sum += m.Headline
		switch {
		case m.Headline >= highThreshold:
			st.High++
		case m.Headline >= domain.FrustratedMessageScore:
			st.Medium++
		case m.Headline >= 1:
			st.Low++
		default:
			st.None++
		}
		st.MessagesAnalyzed += m.TotalMsgs
		st.FrustratedMessages += m.FrustratedMsgs
	}
	if st.Analyzed > 0 {
		st.MeanHeadline = sum / float64(st.Analyzed)
	}
	if st.MessagesAnalyzed > 0 {
		st.FrustratedPct = float64(st.FrustratedMessages) / float64(st.MessagesAnalyzed) * 100
	}
	return st
}

type Distribution struct {
	Severity    map[domain.Severity]int          `json:"severity"`
	SupportTier map[domain.SupportTier]int       `json:"support_tier"`
	IssueClass  map[domain.IssueClass]int        `json:"issue_class"`
	Resolution  map[domain.ResolutionOutlook]int `json:"resolution"`
}

func ComputeDistribution(cases []*domain.CaseRecord) Distribution {
	d := Distribution{
		Severity:    map[domain.Severity]int{},
		SupportTier: map[domain.SupportTier]int{},
		IssueClass:  map[domain.IssueClass]int{},
		Resolution:  map[domain.ResolutionOutlook]int{},
	}
	for _, c := range cases {
		d.Severity[orUnparsed(c.Meta.Severity, domain.SeverityUnparsed)]++
		d.SupportTier[orUnparsed(c.Meta.SupportTier, domain.TierUnparsed)]++
		if c.Analysis != nil {
			d.IssueClass[orUnparsed(c.Analysis.IssueClass, domain.IssueUnparsed)]++
			d.Resolution[orUnparsed(c.Analysis.ResolutionOutlook, domain.OutlookUnparsed)]++
		}
	}
	return d
}

func orUnparsed[T ~string](v, unparsed T) T {
	if v == "" {
		return unparsed
	}
	return v
}
