package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"casewatch/internal/casestore"
	"casewatch/internal/domain"
	"casewatch/internal/health"
	"casewatch/internal/integrations/llm"
	"casewatch/internal/scoring"
)

type Config struct {
	Gate1AvgThreshold  float64
	Gate1PeakThreshold float64
	Gate2Threshold     float64
	StageBCap          int
	StageCCap          int
	Health             health.Params
}

func DefaultConfig() Config {
	return Config{
		Gate1AvgThreshold:  3.0,
		Gate1PeakThreshold: 6.0,
		Gate2Threshold:     175,
		StageBCap:          25,
		StageCCap:          10,
		Health:             health.DefaultParams(),
	}
}

// CaseInput is one case from an open-case upload. Key may be in any raw
// form; it is normalized by the store.
type CaseInput struct {
	Key      string
	Meta     domain.CaseMeta
	Messages []domain.IncomingMessage
}

type Controller struct {
	store  *casestore.Store
	oracle llm.Oracle
	cfg    Config
	now    func() time.Time
	newID  func() string
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithRunID(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

func New(store *casestore.Store, oracle llm.Oracle, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		oracle: oracle,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run holds the per-run working set.
type run struct {
	result *RunResult
	inputs map[string]CaseInput
	order  []string
}

// Run executes stages A, B and C over the uploaded cases, recomputes
// criticality and returns the run statistics with the portfolio health.
// Oracle failures only affect the case being processed; a cancelled context
// stops the run and is returned alongside the partial result. Persisting the
// store is left to the caller.
func (c *Controller) Run(ctx context.Context, cases []CaseInput) (RunResult, error) {
	result := RunResult{RunID: c.newID(), StartedAt: c.now().UTC()}
	r := &run{result: &result, inputs: mergeInputs(cases)}
	for key := range r.inputs {
		r.order = append(r.order, key)
	}
	sort.Strings(r.order)
	result.CasesInUpload = len(r.order)
	c.store.MarkOpenUpload()
	log.Printf("gate run start run_id=%s cases=%d", result.RunID, result.CasesInUpload)

	err := c.stageA(ctx, r)
	if err == nil {
		err = c.stageB(ctx, r)
	}
	if err == nil {
		err = c.stageC(ctx, r)
	}

	c.rescoreAll()
	result.Health = health.Compute(c.store.All(true), c.now(), c.cfg.Health)
	result.FinishedAt = c.now().UTC()
	log.Printf("gate run done run_id=%s stage_a=%s gate1_opened=%d stage_b=%s gate2_opened=%d stage_c=%s health=%.1f critical=%d",
		result.RunID, result.StageA, result.Gate1Opened, result.StageB, result.Gate2Opened, result.StageC,
		result.Health.Score, result.Health.CriticalCases)
	return result, err
}

// mergeInputs normalizes keys and folds duplicate upload rows for the same
// case together. Messages are sorted by date.
func mergeInputs(cases []CaseInput) map[string]CaseInput {
	out := make(map[string]CaseInput, len(cases))
	for _, in := range cases {
		key := casestore.NormalizeKey(in.Key)
		if key == "" {
			log.Printf("WARNING: gate skipping upload row with empty case key")
			continue
		}
		if prev, ok := out[key]; ok {
			log.Printf("gate upload duplicate case=%s raw=%q merged", key, in.Key)
			in.Messages = append(prev.Messages, in.Messages...)
		}
		msgs := append([]domain.IncomingMessage(nil), in.Messages...)
		sort.SliceStable(msgs, func(i, j int) bool {
			a, b := msgs[i].Date, msgs[j].Date
			if a.IsZero() || b.IsZero() {
				return a.IsZero() && !b.IsZero()
			}
			return a.Before(b)
		})
		in.Key = key
		in.Messages = msgs
		out[key] = in
	}
	return out
}

func (c *Controller) stageA(ctx context.Context, r *run) error {
	for _, key := range r.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := r.inputs[key]
		rec, created := c.store.Upsert(key, in.Meta)
		if created {
			r.result.NewCases++
		}
		if !rec.IsOpen() {
			log.Printf("gate stage-a case=%s closed, skipping", key)
			r.result.StageA.Skipped++
			continue
		}

		fresh := c.store.NewMessagesSince(key, in.Messages)
		if len(fresh) == 0 {
			r.result.StageA.Unchanged++
		} else {
			r.result.StageA.Candidates++
			if err := c.scoreMessages(ctx, rec, fresh, &r.result.StageA); err != nil {
				return err
			}
		}

		c.rescore(rec)
		if c.gate1Condition(rec) {
			opened, err := c.store.OpenGate1(key)
			if err != nil {
				return err
			}
			if opened {
				r.result.Gate1Opened++
				r.result.Escalations = append(r.result.Escalations, escalationFor(rec, 1))
				log.Printf("gate stage-a case=%s gate1 opened avg=%.2f peak=%.1f", key, rec.RunningFrustration.Avg, rec.RunningFrustration.Peak)
			}
		}
	}
	return nil
}

// scoreMessages runs the scoring call for a case's new messages. Only a
// cancelled context is returned as an error.
func (c *Controller) scoreMessages(ctx context.Context, rec *domain.CaseRecord, fresh []domain.IncomingMessage, stats *StageStats) error {
	indexed := llm.IndexMessages(fresh)
	scoring, err := c.oracle.ScoreMessages(ctx, llm.CaseContextFromRecord(rec), indexed)
	if err == nil && !scoring.Successful {
		err = fmt.Errorf("%w: unsuccessful scoring result", llm.ErrMalformedOutput)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.fail(err)
		log.Printf("WARNING: gate stage-a case=%s scoring failed, cached state kept: %v", rec.Key, err)
		return nil
	}

	added, err := c.store.AppendMessages(rec.Key, scoring.Entries(indexed))
	if err != nil {
		return err
	}
	analysis := mergeAnalysis(rec.Analysis, scoring, c.now().UTC())
	if err := c.store.SetAnalysis(rec.Key, analysis); err != nil {
		return err
	}
	stats.Succeeded++
	log.Printf("gate stage-a case=%s new=%d added=%d avg=%.2f peak=%.1f issue=%s outlook=%s",
		rec.Key, len(fresh), added, rec.RunningFrustration.Avg, rec.RunningFrustration.Peak, analysis.IssueClass, analysis.ResolutionOutlook)
	return nil
}

// mergeAnalysis keeps earlier case-level fields when the latest scoring
// call could not parse them.
func mergeAnalysis(prev *domain.MessageAnalysis, s llm.MessageScoring, now time.Time) domain.MessageAnalysis {
	next := domain.MessageAnalysis{
		IssueClass:        s.IssueClass,
		ResolutionOutlook: s.ResolutionOutlook,
		KeyPhrase:         s.KeyPhrase,
		AnalyzedAt:        now,
	}
	if prev == nil {
		return next
	}
	if next.IssueClass == domain.IssueUnparsed || next.IssueClass == "" {
		next.IssueClass = prev.IssueClass
	}
	if next.ResolutionOutlook == domain.OutlookUnparsed || next.ResolutionOutlook == "" {
		next.ResolutionOutlook = prev.ResolutionOutlook
	}
	if next.KeyPhrase == "" {
		next.KeyPhrase = prev.KeyPhrase
	}
	return next
}

func (c *Controller) gate1Condition(rec *domain.CaseRecord) bool {
	rf := rec.RunningFrustration
	if rf.ScoredCount == 0 {
		return false
	}
	return rf.Avg >= c.cfg.Gate1AvgThreshold || rf.Peak >= c.cfg.Gate1PeakThreshold
}

func (c *Controller) stageB(ctx context.Context, r *run) error {
	var candidates []*domain.CaseRecord
	for _, rec := range c.store.All(false) {
		if !rec.Gate1.Passed || rec.Gate2.Passed || !needsQuickScore(rec) {
			continue
		}
		if _, ok := r.inputs[rec.Key]; !ok {
			r.result.StageB.Deferred++
			continue
		}
		candidates = append(candidates, rec)
	}
	batch, capped := byCriticality(candidates, c.cfg.StageBCap)
	r.result.StageB.Candidates = len(candidates)
	r.result.StageB.Deferred += capped

	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := r.inputs[rec.Key]
		headline, _ := scoring.RecordHeadline(rec)
		req := llm.QuickScoreRequest{
			Case:     llm.CaseContextFromRecord(rec),
			Headline: headline,
			Peak:     rec.RunningFrustration.Peak,
			History:  in.Messages,
		}
		if rec.Analysis != nil {
			req.KeyPhrase = rec.Analysis.KeyPhrase
		}
		result, err := c.oracle.QuickScore(ctx, req)
		if err == nil && !result.Successful {
			err = fmt.Errorf("%w: unsuccessful quick score", llm.ErrMalformedOutput)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.result.StageB.fail(err)
			log.Printf("WARNING: gate stage-b case=%s quick score failed, cached state kept: %v", rec.Key, err)
			continue
		}
		result.MessageWatermark = rec.LatestMessageDate()
		if result.ScoredAt.IsZero() {
			result.ScoredAt = c.now().UTC()
		}
		if err := c.store.SetQuickScore(rec.Key, result); err != nil {
			return err
		}
		r.result.StageB.Succeeded++
		c.rescore(rec)
		log.Printf("gate stage-b case=%s criticality=%.1f priority=%s bonus=%.1f", rec.Key, rec.CriticalityScore, result.Priority, rec.Breakdown.QuickScoreBonus)
	}

	// Every quick-scored case is checked against the gate, including ones
	// whose criticality rose from stage A alone this run.
	for _, rec := range c.store.All(false) {
		if !rec.Gate1.Passed || rec.Gate2.Passed || rec.QuickScore == nil {
			continue
		}
		if rec.CriticalityScore < c.cfg.Gate2Threshold {
			continue
		}
		opened, err := c.store.OpenGate2(rec.Key)
		if err != nil {
			return err
		}
		if opened {
			r.result.Gate2Opened++
			r.result.Escalations = append(r.result.Escalations, escalationFor(rec, 2))
			log.Printf("gate stage-b case=%s gate2 opened criticality=%.1f", rec.Key, rec.CriticalityScore)
		}
	}
	return nil
}

// needsQuickScore is true when the case was never quick-scored or has
// cached messages newer than the last quick score saw.
func needsQuickScore(rec *domain.CaseRecord) bool {
	if rec.QuickScore == nil {
		return true
	}
	latest := rec.LatestMessageDate()
	if latest == nil {
		return false
	}
	mark := rec.QuickScore.MessageWatermark
	return mark == nil || latest.After(*mark)
}

func (c *Controller) stageC(ctx context.Context, r *run) error {
	var candidates []*domain.CaseRecord
	for _, rec := range c.store.All(false) {
		if !rec.Gate2.Passed || !c.needsTimeline(rec) {
			continue
		}
		if _, ok := r.inputs[rec.Key]; !ok {
			r.result.StageC.Deferred++
			continue
		}
		candidates = append(candidates, rec)
	}
	batch, capped := byCriticality(candidates, c.cfg.StageCCap)
	r.result.StageC.Candidates = len(candidates)
	r.result.StageC.Deferred += capped

	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := r.inputs[rec.Key]
		headline, _ := scoring.RecordHeadline(rec)
		req := llm.TimelineRequest{
			Case:     llm.CaseContextFromRecord(rec),
			Headline: headline,
			Messages: in.Messages,
		}
		if rec.Timeline != nil {
			req.Append = true
			req.Prior = rec.Timeline.Entries
			req.Messages = messagesAfter(in.Messages, rec.Timeline.LastEntryDate)
			if len(req.Messages) == 0 {
				r.result.StageC.Deferred++
				continue
			}
		}

		result, err := c.oracle.GenerateTimeline(ctx, req)
		if err == nil && (!result.Successful || len(result.Entries) == 0) {
			err = fmt.Errorf("%w: unsuccessful timeline", llm.ErrMalformedOutput)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.result.StageC.fail(err)
			log.Printf("WARNING: gate stage-c case=%s timeline failed, cached state kept: %v", rec.Key, err)
			continue
		}

		last := latestDate(req.Messages)
		if req.Append {
			err = c.store.AppendTimelineEntries(rec.Key, result.Entries, last)
		} else {
			err = c.store.CreateTimeline(rec.Key, result.Entries, last, result.Summary)
		}
		if err != nil {
			return err
		}
		r.result.StageC.Succeeded++
		c.rescore(rec)
		log.Printf("gate stage-c case=%s append=%t entries=%d criticality=%.1f", rec.Key, req.Append, len(result.Entries), rec.CriticalityScore)
	}
	return nil
}

// needsTimeline is true for a case with no timeline, or with a cached dated
// message the timeline has not covered.
func (c *Controller) needsTimeline(rec *domain.CaseRecord) bool {
	if rec.Timeline == nil {
		return true
	}
	return len(c.store.NewMessagesForTimeline(rec.Key)) > 0
}

// messagesAfter keeps the dated messages after the watermark. A nil watermark
// keeps every dated message.
func messagesAfter(msgs []domain.IncomingMessage, after *time.Time) []domain.IncomingMessage {
	var out []domain.IncomingMessage
	for _, m := range msgs {
		if !m.Date.IsZero() && (after == nil || m.Date.After(*after)) {
			out = append(out, m)
		}
	}
	return out
}

func latestDate(msgs []domain.IncomingMessage) *time.Time {
	var latest time.Time
	for _, m := range msgs {
		if m.Date.After(latest) {
			latest = m.Date
		}
	}
	if latest.IsZero() {
		return nil
	}
	return &latest
}

// byCriticality orders candidates by criticality, highest first, and cuts
// the list at limit. It returns the batch and how many were left out.
func byCriticality(cands []*domain.CaseRecord, limit int) ([]*domain.CaseRecord, int) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].CriticalityScore != cands[j].CriticalityScore {
			return cands[i].CriticalityScore > cands[j].CriticalityScore
		}
		return cands[i].Key < cands[j].Key
	})
	if limit <= 0 || len(cands) <= limit {
		return cands, 0
	}
	return cands[:limit], len(cands) - limit
}

func (c *Controller) rescore(rec *domain.CaseRecord) {
	if err := c.store.SetCriticality(rec.Key, scoring.ScoreRecord(rec)); err != nil {
		log.Printf("WARNING: gate rescore case=%s: %v", rec.Key, err)
	}
}

// rescoreAll refreshes criticality for every cached case so records not in
// this upload still reflect the current scoring rules.
func (c *Controller) rescoreAll() {
	for _, rec := range c.store.All(true) {
		c.rescore(rec)
	}
}

func escalationFor(rec *domain.CaseRecord, gate int) Escalation {
	return Escalation{
		Key:          rec.Key,
		CustomerName: rec.Meta.CustomerName,
		Severity:     rec.Meta.Severity,
		Gate:         gate,
		Criticality:  rec.CriticalityScore,
		Peak:         rec.RunningFrustration.Peak,
	}
}

func (s *StageStats) fail(err error) {
	s.Failed++
	if errors.Is(err, llm.ErrMalformedOutput) {
		s.Malformed++
	}
	if errors.Is(err, llm.ErrRateLimited) {
		s.RateLimited++
	}
}
