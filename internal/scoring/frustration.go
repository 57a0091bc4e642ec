package scoring

import (
	"math"

	"casewatch/internal/domain"
)

type FrustrationMetrics struct {
	Average        float64
	Peak           float64
	Headline       float64
	FrustratedPct  float64
	FrustratedMsgs int
	TotalMsgs      int
}

// Metrics summarises per-message scores. ok is false when there are none.
func Metrics(scores []float64) (FrustrationMetrics, bool) {
	if len(scores) == 0 {
		return FrustrationMetrics{}, false
	}
	m := FrustrationMetrics{TotalMsgs: len(scores)}
	sum := 0.0
	for _, s := range scores {
		sum += s
		if s > m.Peak {
			m.Peak = s
		}
		if s >= domain.FrustratedMessageScore {
			m.FrustratedMsgs++
		}
	}
	m.Average = sum / float64(len(scores))
	m.FrustratedPct = float64(m.FrustratedMsgs) / float64(len(scores)) * 100
	m.Headline = HeadlineFrustration(m.Average, m.Peak, float64(m.FrustratedMsgs)/float64(len(scores)))
	return m, true
}

// HeadlineFrustration blends average and peak so a single severe message is
// not averaged away. frequency is the frustrated share in [0, 1]. The result
// is rounded to a whole score in [0, 10].
func HeadlineFrustration(avg, peak, frequency float64) float64 {
	var score float64
	switch {
	case peak >= 8:
		score = peak*0.8 + avg*0.2
	case peak >= 7:
		score = math.Max(5, peak*0.6+avg*0.4)
	case frequency > 0.5:
		score = peak*0.7 + avg*0.3
	case frequency > 0.2:
		score = peak*0.4 + avg*0.6
	case peak >= 5:
		score = math.Max(3, peak*0.3+avg*0.7)
	default:
		score = avg
	}
	return clamp(math.Round(score), 0, 10)
}

// RecordHeadline returns the headline score for a record and whether the
// record has any scored customer messages.
func RecordHeadline(rec *domain.CaseRecord) (float64, bool) {
	m, ok := Metrics(rec.CustomerScores())
	return m.Headline, ok
}
