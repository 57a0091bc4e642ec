package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"casewatch/internal/domain"
	"casewatch/internal/retry"
)

type ClientConfig struct {
	// ScoringModel serves stage A; DeepModel serves quick scoring and
	// timelines.
	ScoringModel string
	DeepModel    string
	// Guidance is optional product context included in every prompt.
	Guidance string
	Glossary *Glossary
	Policy   retry.Policy
	// MinInterval paces calls; zero disables pacing.
	MinInterval time.Duration
	Now         func() time.Time
}

// Client implements Oracle on top of a Provider.
type Client struct {
	provider Provider
	cfg      ClientConfig
	limiter  *rate.Limiter
	now      func() time.Time

	mu    sync.Mutex
	usage LLMUsage
	calls int
}

func NewClient(p Provider, cfg ClientConfig) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	if cfg.Policy.Classify == nil {
		cfg.Policy.Classify = ClassifyError
	}
	if cfg.DeepModel == "" {
		cfg.DeepModel = defaultModel(p.Name())
	}
	if cfg.ScoringModel == "" {
		cfg.ScoringModel = defaultScoringModelFor(p.Name(), cfg.DeepModel)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{provider: p, cfg: cfg, limiter: limiter, now: now}
}

func defaultModel(provider string) string {
	if provider == "openai" {
		return defaultOpenAIModel
	}
	return defaultAnthropicModel
}

func defaultScoringModelFor(provider, deep string) string {
	if provider == "anthropic" {
		return defaultScoringModel
	}
	return deep
}

// Usage returns the token usage and call count accumulated so far.
func (c *Client) Usage() (LLMUsage, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage, c.calls
}

func (c *Client) complete(ctx context.Context, label, model, systemPrompt, userPrompt string) (string, error) {
	var text string
	err := c.cfg.Policy.Do(ctx, label, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out, usage, err := c.provider.Complete(ctx, model, systemPrompt, userPrompt)
		c.mu.Lock()
		c.usage.Add(usage)
		c.calls++
		c.mu.Unlock()
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		if ClassifyError(err) == retry.RateLimited {
			err = fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrOracle, label, err)
	}
	return text, nil
}

// ScoreMessages runs the per-message scoring call (stage A) and applies
// glossary floors to the parsed scores.
func (c *Client) ScoreMessages(ctx context.Context, cc CaseContext, msgs []IndexedMessage) (MessageScoring, error) {
	if len(msgs) == 0 {
		return MessageScoring{IssueClass: domain.IssueUnparsed, ResolutionOutlook: domain.OutlookUnparsed, Successful: true}, nil
	}
	log.Printf("llm score-messages provider=%s model=%s case=%s messages=%d", c.provider.Name(), c.cfg.ScoringModel, cc.Key, len(msgs))
	systemPrompt, userPrompt := buildScoringPrompt(cc, msgs, c.cfg.Guidance)
	text, err := c.complete(ctx, "score-messages case="+cc.Key, c.cfg.ScoringModel, systemPrompt, userPrompt)
	if err != nil {
		return MessageScoring{}, err
	}
	scoring, err := parseMessageScoring(stripCodeFences(text), msgs)
	if err != nil {
		log.Printf("WARNING: llm score-messages case=%s unparsable response: %v", cc.Key, err)
		return scoring, err
	}
	if raised := applyGlossaryFloors(&scoring, msgs, c.cfg.Glossary); raised > 0 {
		log.Printf("llm glossary floors applied case=%s raised=%d", cc.Key, raised)
	}
	return scoring, nil
}

// QuickScore runs the stage-B pattern scoring call.
func (c *Client) QuickScore(ctx context.Context, req QuickScoreRequest) (domain.QuickScoreResult, error) {
	log.Printf("llm quick-score provider=%s model=%s case=%s history=%d", c.provider.Name(), c.cfg.DeepModel, req.Case.Key, len(req.History))
	systemPrompt, userPrompt := buildQuickScorePrompt(req, c.cfg.Guidance)
	text, err := c.complete(ctx, "quick-score case="+req.Case.Key, c.cfg.DeepModel, systemPrompt, userPrompt)
	if err != nil {
		return domain.QuickScoreResult{}, err
	}
	result, err := parseQuickScore(text)
	if err != nil {
		log.Printf("WARNING: llm quick-score case=%s unparsable response: %v", req.Case.Key, err)
		return result, err
	}
	result.ScoredAt = c.now().UTC()
	return result, nil
}

// GenerateTimeline builds timeline entries for the request's messages. In
// full mode a second call produces the executive summary; a failed summary
// leaves the timeline itself successful.
func (c *Client) GenerateTimeline(ctx context.Context, req TimelineRequest) (TimelineResult, error) {
	mode := "full"
	if req.Append {
		mode = "append"
	}
	log.Printf("llm timeline provider=%s model=%s case=%s mode=%s messages=%d", c.provider.Name(), c.cfg.DeepModel, req.Case.Key, mode, len(req.Messages))
	systemPrompt, userPrompt := buildTimelinePrompt(req, c.cfg.Guidance)
	text, err := c.complete(ctx, "timeline case="+req.Case.Key, c.cfg.DeepModel, systemPrompt, userPrompt)
	if err != nil {
		return TimelineResult{}, err
	}
	entries, err := parseTimelineEntries(text)
	if err != nil {
		log.Printf("WARNING: llm timeline case=%s unparsable response: %v", req.Case.Key, err)
		return TimelineResult{}, err
	}
	result := TimelineResult{Entries: entries, Successful: true}
	if req.Append {
		return result, nil
	}

	summary, err := c.executiveSummary(ctx, req.Case, entries)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return TimelineResult{}, err
		}
		log.Printf("WARNING: llm executive-summary case=%s failed, keeping timeline: %v", req.Case.Key, err)
		return result, nil
	}
	result.Summary = summary
	return result, nil
}

func (c *Client) executiveSummary(ctx context.Context, cc CaseContext, entries []domain.TimelineEntry) (*domain.ExecutiveSummary, error) {
	systemPrompt, userPrompt := buildSummaryPrompt(cc, entries)
	text, err := c.complete(ctx, "executive-summary case="+cc.Key, c.cfg.DeepModel, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	return parseExecutiveSummary(text)
}
