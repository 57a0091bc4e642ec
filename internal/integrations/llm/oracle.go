package llm

import (
	"context"
	"errors"
	"time"

	"casewatch/internal/domain"
)

var (
	// ErrOracle marks a call that failed after retries. The caller treats the
	// stage as unsuccessful for that case and leaves cached state alone.
	ErrOracle = errors.New("oracle call failed")
	// ErrRateLimited is a transient throttling response (HTTP 429 or 529).
	ErrRateLimited = errors.New("oracle rate limited")
	// ErrMalformedOutput means the oracle answered but nothing usable could be
	// parsed from the text.
	ErrMalformedOutput = errors.New("oracle output malformed")
)

// Oracle is the remote text-classification boundary used by the gate
// controller. Every method either returns a successful result or an error
// wrapping ErrOracle or ErrMalformedOutput.
type Oracle interface {
	ScoreMessages(ctx context.Context, c CaseContext, msgs []IndexedMessage) (MessageScoring, error)
	QuickScore(ctx context.Context, req QuickScoreRequest) (domain.QuickScoreResult, error)
	GenerateTimeline(ctx context.Context, req TimelineRequest) (TimelineResult, error)
}

type CaseContext struct {
	Key              string
	CustomerName     string
	Severity         domain.Severity
	SupportTier      domain.SupportTier
	Status           domain.CaseStatus
	AgeDays          int
	InteractionCount int
}

// CaseContextFromRecord fills the prompt header from a cached record.
func CaseContextFromRecord(rec *domain.CaseRecord) CaseContext {
	count := rec.Meta.InteractionCount
	if count <= 0 {
		count = len(rec.Messages)
	}
	return CaseContext{
		Key:              rec.Key,
		CustomerName:     rec.Meta.CustomerName,
		Severity:         rec.Meta.Severity,
		SupportTier:      rec.Meta.SupportTier,
		Status:           rec.Status,
		AgeDays:          rec.Meta.AgeDays,
		InteractionCount: count,
	}
}

// IndexedMessage is one message handed to the scoring call. Index is
// 1-based and is how the oracle refers back to it.
type IndexedMessage struct {
	Index      int
	Date       time.Time
	Text       string
	IsCustomer bool
}

// IndexMessages numbers messages in the order given.
func IndexMessages(msgs []domain.IncomingMessage) []IndexedMessage {
	out := make([]IndexedMessage, 0, len(msgs))
	for i, m := range msgs {
		out = append(out, IndexedMessage{Index: i + 1, Date: m.Date, Text: m.Text, IsCustomer: m.IsCustomer})
	}
	return out
}

type MessageScore struct {
	MessageIndex int
	Score        float64
	Reason       string
}

type MessageScoring struct {
	Scores            []MessageScore
	IssueClass        domain.IssueClass
	ResolutionOutlook domain.ResolutionOutlook
	KeyPhrase         string
	Successful        bool
}

// Entries turns a scoring result back into cacheable message entries. A
// message the oracle skipped keeps a nil score.
func (s MessageScoring) Entries(msgs []IndexedMessage) []domain.MessageEntry {
	byIndex := make(map[int]MessageScore, len(s.Scores))
	for _, sc := range s.Scores {
		byIndex[sc.MessageIndex] = sc
	}
	out := make([]domain.MessageEntry, 0, len(msgs))
	for _, m := range msgs {
		e := domain.MessageEntry{Date: m.Date, IsCustomer: m.IsCustomer}
		if sc, ok := byIndex[m.Index]; ok {
			score := sc.Score
			e.FrustrationScore = &score
			e.Reason = sc.Reason
		}
		out = append(out, e)
	}
	return out
}

type QuickScoreRequest struct {
	Case      CaseContext
	Headline  float64
	Peak      float64
	KeyPhrase string
	// History is the full current message list in chronological order.
	History []domain.IncomingMessage
}

type TimelineRequest struct {
	Case     CaseContext
	Headline float64
	// Messages are the ones the timeline has not covered yet. In append mode
	// only these are sent; in full mode they are the whole history.
	Messages []domain.IncomingMessage
	Append   bool
	// Prior is the existing timeline, used as context in append mode.
	Prior []domain.TimelineEntry
}

type TimelineResult struct {
	Entries    []domain.TimelineEntry
	Summary    *domain.ExecutiveSummary
	Successful bool
}

type LLMUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}
