package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewatch/internal/domain"
	"casewatch/internal/retry"
)

type scriptedReply struct {
	text string
	err  error
}

type scriptedProvider struct {
	replies []scriptedReply
	calls   int
	prompts []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _, _, userPrompt string) (string, LLMUsage, error) {
	p.prompts = append(p.prompts, userPrompt)
	if p.calls >= len(p.replies) {
		p.calls++
		return "", LLMUsage{}, errors.New("no scripted reply left")
	}
	r := p.replies[p.calls]
	p.calls++
	return r.text, LLMUsage{InputTokens: 10, OutputTokens: 5}, r.err
}

func noSleepPolicy() retry.Policy {
	p := retry.DefaultPolicy(ClassifyError)
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestClient(p Provider, g *Glossary) *Client {
	return NewClient(p, ClientConfig{
		ScoringModel: "score-model",
		DeepModel:    "deep-model",
		Glossary:     g,
		Policy:       noSleepPolicy(),
		Now:          func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
}

const scoringReply = `[{"msg": 1, "score": 2, "reason": "patient"}, {"msg": 2, "score": 4, "reason": "worried"}]
ISSUE_CLASS: Component
RESOLUTION_OUTLOOK: Manageable
KEY_PHRASE: "the execs are asking"`

func TestScoreMessagesAppliesGlossary(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{text: scoringReply}}}
	c := newTestClient(p, &Glossary{Floors: []GlossaryFloor{{Phrase: "execs", MinScore: 7}}})
	msgs := []IndexedMessage{
		{Index: 1, Text: "any update?", IsCustomer: true},
		{Index: 2, Text: "the execs are asking", IsCustomer: true},
	}

	got, err := c.ScoreMessages(context.Background(), CaseContext{Key: "90406", CustomerName: "Acme"}, msgs)
	require.NoError(t, err)
	assert.True(t, got.Successful)
	assert.Equal(t, 7.0, got.Scores[1].Score)
	assert.Equal(t, domain.IssueComponent, got.IssueClass)
	assert.Contains(t, p.prompts[0], "Customer: Acme")

	usage, calls := c.Usage()
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(15), usage.TotalTokens())
}

func TestScoreMessagesRetriesRateLimit(t *testing.T) {
	throttled := fmt.Errorf("OpenAI API error: %w", &StatusError{StatusCode: 429, Message: "slow down"})
	p := &scriptedProvider{replies: []scriptedReply{{err: throttled}, {err: throttled}, {text: scoringReply}}}
	c := newTestClient(p, nil)

	got, err := c.ScoreMessages(context.Background(), CaseContext{Key: "1"}, []IndexedMessage{{Index: 1, IsCustomer: true}})
	require.NoError(t, err)
	assert.True(t, got.Successful)
	assert.Equal(t, 3, p.calls)
}

func TestScoreMessagesExhaustedRateLimit(t *testing.T) {
	throttled := &StatusError{StatusCode: 529, Message: "overloaded"}
	var replies []scriptedReply
	for i := 0; i < 10; i++ {
		replies = append(replies, scriptedReply{err: throttled})
	}
	p := &scriptedProvider{replies: replies}
	c := newTestClient(p, nil)

	_, err := c.ScoreMessages(context.Background(), CaseContext{Key: "1"}, []IndexedMessage{{Index: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracle)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, retry.DefaultPolicy(nil).RateLimitAttempts, p.calls)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{err: &StatusError{StatusCode: 400, Message: "bad request"}}}}
	c := newTestClient(p, nil)

	_, err := c.QuickScore(context.Background(), QuickScoreRequest{Case: CaseContext{Key: "1"}})
	assert.ErrorIs(t, err, ErrOracle)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, p.calls)
}

func TestMalformedOutputIsNotAnOracleFailure(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{text: "I am not able to help with that."}}}
	c := newTestClient(p, nil)

	got, err := c.ScoreMessages(context.Background(), CaseContext{Key: "1"}, []IndexedMessage{{Index: 1}})
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.NotErrorIs(t, err, ErrOracle)
	assert.False(t, got.Successful)
	assert.Equal(t, 1, p.calls)
}

func TestQuickScoreStampsTime(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{text: "FRUSTRATION_FREQUENCY: 30\nRELATIONSHIP_DAMAGE_FREQUENCY: 20\nCUSTOMER_PRIORITY: Critical\nJUSTIFICATION: Escalated."}}}
	c := newTestClient(p, nil)

	got, err := c.QuickScore(context.Background(), QuickScoreRequest{
		Case:      CaseContext{Key: "90406"},
		Peak:      8,
		KeyPhrase: "execs",
		History:   []domain.IncomingMessage{{Text: "hello", IsCustomer: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCritical, got.Priority)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), got.ScoredAt)
	assert.Contains(t, p.prompts[0], "[CUSTOMER] hello")
}

const timelineReply = `TIMELINE_ENTRY: [Message 1 - Date: Mar 01, 2026]
SUMMARY: Customer opened the case.
FRUSTRATION_DETECTED: No`

const summaryReply = `EXECUTIVE_SUMMARY: Early stage case.
CUSTOMER_PRIORITY: Low
RECOMMENDED_ACTION: Keep monitoring.`

func TestGenerateTimelineFullIncludesSummary(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{text: timelineReply}, {text: summaryReply}}}
	c := newTestClient(p, nil)

	got, err := c.GenerateTimeline(context.Background(), TimelineRequest{
		Case:     CaseContext{Key: "1"},
		Messages: []domain.IncomingMessage{{Text: "it broke", IsCustomer: true}},
	})
	require.NoError(t, err)
	assert.True(t, got.Successful)
	require.Len(t, got.Entries, 1)
	require.NotNil(t, got.Summary)
	assert.Equal(t, domain.PriorityLow, got.Summary.CustomerPriority)
	assert.Equal(t, 2, p.calls)
}

func TestGenerateTimelineSummaryFailureKeepsEntries(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{text: timelineReply}, {text: "no fields at all"}}}
	c := newTestClient(p, nil)

	got, err := c.GenerateTimeline(context.Background(), TimelineRequest{Case: CaseContext{Key: "1"}})
	require.NoError(t, err)
	assert.True(t, got.Successful)
	assert.Nil(t, got.Summary)
	assert.Len(t, got.Entries, 1)
}

func TestGenerateTimelineAppendSkipsSummary(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{text: timelineReply}}}
	c := newTestClient(p, nil)

	got, err := c.GenerateTimeline(context.Background(), TimelineRequest{
		Case:   CaseContext{Key: "1"},
		Append: true,
		Prior:  []domain.TimelineEntry{{Label: "Message 0", Summary: "earlier"}},
		Messages: []domain.IncomingMessage{
			{Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Text: "please help", IsCustomer: false},
			{Date: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), Text: "still broken", IsCustomer: true},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, got.Summary)
	assert.Equal(t, 1, p.calls)
	assert.Contains(t, p.prompts[0], "EXISTING TIMELINE")
	assert.Contains(t, p.prompts[0], "(3d delay - CUSTOMER not responding)")
}

func TestOpenAIProvider(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req openAIRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-test", req.Model)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"FRUSTRATION_FREQUENCY: 10\nRELATIONSHIP_DAMAGE_FREQUENCY: 5\nCUSTOMER_PRIORITY: Medium"}}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL)
	_, _, err := p.Complete(context.Background(), "gpt-test", "sys", "user")
	require.Error(t, err)
	assert.Equal(t, retry.RateLimited, ClassifyError(err))

	c := NewClient(p, ClientConfig{DeepModel: "gpt-test", Policy: noSleepPolicy()})
	got, err := c.QuickScore(context.Background(), QuickScoreRequest{Case: CaseContext{Key: "1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, got.Priority)
	usage, _ := c.Usage()
	assert.Equal(t, int64(7), usage.InputTokens)
}

func TestAnthropicProviderRetriesOverloaded(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"` +
			`TIMELINE_ENTRY: [Message 1]\nSUMMARY: Opened."}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":4}}`))
	}))
	defer srv.Close()

	c := NewClient(NewAnthropicProvider("test-key", srv.URL+"/"), ClientConfig{DeepModel: "claude-test", Policy: noSleepPolicy()})
	got, err := c.GenerateTimeline(context.Background(), TimelineRequest{Case: CaseContext{Key: "1"}, Append: true})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "Opened.", got.Entries[0].Summary)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want retry.Class
	}{
		{429, retry.RateLimited},
		{529, retry.RateLimited},
		{408, retry.Transient},
		{409, retry.Transient},
		{400, retry.Permanent},
		{401, retry.Permanent},
		{500, retry.Transient},
		{503, retry.Transient},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.code); got != tt.want {
			t.Fatalf("classifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
	assert.Equal(t, retry.Permanent, ClassifyError(context.Canceled))
	assert.Equal(t, retry.Transient, ClassifyError(errors.New("connection reset")))
}
