package domain

import (
	"sort"
	"time"
)

// FrustratedMessageScore is the per-message score at or above which a
// customer message counts as frustrated.
const FrustratedMessageScore = 4.0

type CaseMeta struct {
	CustomerName     string      `json:"customer_name"`
	Severity         Severity    `json:"severity"`
	SupportTier      SupportTier `json:"support_tier"`
	AgeDays          int         `json:"case_age_days"`
	InteractionCount int         `json:"interaction_count"`
	EngagementRatio  *float64    `json:"engagement_ratio,omitempty"`
	CreatedDate      *time.Time  `json:"created_date,omitempty"`
	LastModified     *time.Time  `json:"last_modified_date,omitempty"`
}

// IncomingMessage is a message as supplied by an open-case upload. Message
// text is never cached; only the scored MessageEntry is.
type IncomingMessage struct {
	Date       time.Time
	Text       string
	IsCustomer bool
}

type MessageEntry struct {
	Date             time.Time `json:"date"`
	FrustrationScore *float64  `json:"frustration_score,omitempty"`
	IsCustomer       bool      `json:"is_customer"`
	Reason           string    `json:"reason,omitempty"`
}

func (m MessageEntry) Dated() bool { return !m.Date.IsZero() }

type RunningFrustration struct {
	Avg         float64 `json:"avg"`
	Peak        float64 `json:"peak"`
	ScoredCount int     `json:"scored_count"`
}

type GateState struct {
	Passed   bool       `json:"passed"`
	PassedAt *time.Time `json:"passed_at,omitempty"`
}

type MessageAnalysis struct {
	IssueClass        IssueClass        `json:"issue_class"`
	ResolutionOutlook ResolutionOutlook `json:"resolution_outlook"`
	KeyPhrase         string            `json:"key_phrase"`
	AnalyzedAt        time.Time         `json:"analyzed_at"`
}

type QuickScoreResult struct {
	FrustrationFrequency float64   `json:"frustration_frequency"`
	DamageFrequency      float64   `json:"damage_frequency"`
	Priority             Priority  `json:"priority"`
	Justification        string    `json:"justification"`
	Successful           bool      `json:"successful"`
	ScoredAt             time.Time `json:"scored_at"`
	// MessageWatermark is the latest message date the quick score saw.
	MessageWatermark *time.Time `json:"message_watermark,omitempty"`
}

type TimelineEntry struct {
	Label                  string `json:"label"`
	Summary                string `json:"summary"`
	CustomerTone           string `json:"customer_tone,omitempty"`
	FrustrationDetected    bool   `json:"frustration_detected"`
	FrustrationDetail      string `json:"frustration_detail,omitempty"`
	PositiveActionDetected bool   `json:"positive_action_detected"`
	PositiveActionDetail   string `json:"positive_action_detail,omitempty"`
	SupportQuality         string `json:"support_quality,omitempty"`
	RelationshipImpact     string `json:"relationship_impact,omitempty"`
	FailurePatternDetected bool   `json:"failure_pattern_detected"`
	FailurePatternDetail   string `json:"failure_pattern_detail,omitempty"`
	Analysis               string `json:"analysis,omitempty"`
}

type ExecutiveSummary struct {
	ExecutiveSummary         string   `json:"executive_summary"`
	PainPoints               string   `json:"pain_points"`
	SentimentTrend           string   `json:"sentiment_trend"`
	CriticalInflectionPoints string   `json:"critical_inflection_points"`
	CustomerPriority         Priority `json:"customer_priority"`
	RecommendedAction        string   `json:"recommended_action"`
}

type Timeline struct {
	Entries       []TimelineEntry   `json:"entries"`
	LastEntryDate *time.Time        `json:"last_entry_date,omitempty"`
	Summary       *ExecutiveSummary `json:"summary,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// FrustratedPercentage is the share of entries flagged frustrated, 0-100.
func (t *Timeline) FrustratedPercentage() float64 {
	if t == nil || len(t.Entries) == 0 {
		return 0
	}
	flagged := 0
	for _, e := range t.Entries {
		if e.FrustrationDetected {
			flagged++
		}
	}
	return float64(flagged) / float64(len(t.Entries)) * 100
}

type CriticalityBreakdown struct {
	FrustrationBase float64 `json:"frustration_base"`
	PeakBonus       float64 `json:"peak_bonus"`
	FrequencyBonus  float64 `json:"frequency_bonus"`
	Frustration     float64 `json:"frustration"`
	Severity        float64 `json:"severity"`
	IssueClass      float64 `json:"issue_class"`
	Resolution      float64 `json:"resolution"`
	SupportTier     float64 `json:"support_tier"`
	Volume          float64 `json:"volume"`
	Age             float64 `json:"age"`
	Engagement      float64 `json:"engagement"`
	QuickScoreBonus float64 `json:"quick_score_bonus"`
	TimelineBonus   float64 `json:"timeline_bonus"`
	Total           float64 `json:"total"`
}

type CaseRecord struct {
	Key                string               `json:"key"`
	Status             CaseStatus           `json:"status"`
	Meta               CaseMeta             `json:"meta"`
	Messages           []MessageEntry       `json:"messages"`
	RunningFrustration RunningFrustration   `json:"running_frustration"`
	Analysis           *MessageAnalysis     `json:"analysis,omitempty"`
	Gate1              GateState            `json:"gate1"`
	Gate2              GateState            `json:"gate2"`
	QuickScore         *QuickScoreResult    `json:"quick_score,omitempty"`
	Timeline           *Timeline            `json:"timeline,omitempty"`
	CriticalityScore   float64              `json:"criticality_score"`
	Breakdown          CriticalityBreakdown `json:"breakdown"`
	FirstSeen          time.Time            `json:"first_seen"`
	LastUpdated        time.Time            `json:"last_updated"`
}

type Stage string

const (
	StageCold           Stage = "cold"
	StageGate1Open      Stage = "gate1_open"
	StageGate2Open      Stage = "gate2_open"
	StageTimelineActive Stage = "timeline_active"
)

func (r *CaseRecord) Stage() Stage {
	switch {
	case r.Gate2.Passed && r.Timeline != nil:
		return StageTimelineActive
	case r.Gate2.Passed:
		return StageGate2Open
	case r.Gate1.Passed:
		return StageGate1Open
	}
	return StageCold
}

func (r *CaseRecord) IsOpen() bool { return r.Status != StatusClosed }

// LatestMessageDate returns the newest dated message, or nil when no cached
// message carries a date.
func (r *CaseRecord) LatestMessageDate() *time.Time {
	var latest time.Time
	for _, m := range r.Messages {
		if m.Dated() && m.Date.After(latest) {
			latest = m.Date
		}
	}
	if latest.IsZero() {
		return nil
	}
	return &latest
}

// LastActivity prefers the newest message date and falls back to the
// upstream last-modified date. Nil means the case has no usable date.
func (r *CaseRecord) LastActivity() *time.Time {
	if latest := r.LatestMessageDate(); latest != nil {
		return latest
	}
	if r.Meta.LastModified != nil && !r.Meta.LastModified.IsZero() {
		t := *r.Meta.LastModified
		return &t
	}
	return nil
}

// CustomerScores returns the scores of customer-authored messages in
// message order.
func (r *CaseRecord) CustomerScores() []float64 {
	var scores []float64
	for _, m := range r.Messages {
		if m.IsCustomer && m.FrustrationScore != nil {
			scores = append(scores, *m.FrustrationScore)
		}
	}
	return scores
}

func (r *CaseRecord) RecomputeFrustration() {
	scores := r.CustomerScores()
	rf := RunningFrustration{ScoredCount: len(scores)}
	if len(scores) > 0 {
		sum := 0.0
		for _, s := range scores {
			sum += s
			if s > rf.Peak {
				rf.Peak = s
			}
		}
		rf.Avg = sum / float64(len(scores))
	}
	r.RunningFrustration = rf
}

// SortMessages orders messages by date; undated entries keep their relative
// order and sort first.
func (r *CaseRecord) SortMessages() {
	sort.SliceStable(r.Messages, func(i, j int) bool {
		return r.Messages[i].Date.Before(r.Messages[j].Date)
	})
}

type Metadata struct {
	TotalCases       int        `json:"total_cases"`
	OpenCases        int        `json:"open_cases"`
	ClosedCases      int        `json:"closed_cases"`
	LastOpenUpload   *time.Time `json:"last_open_upload,omitempty"`
	LastClosedUpload *time.Time `json:"last_closed_upload,omitempty"`
}

type Cache struct {
	Cases    map[string]*CaseRecord `json:"cases"`
	Metadata Metadata               `json:"metadata"`
}

func NewCache() *Cache {
	return &Cache{Cases: make(map[string]*CaseRecord)}
}
