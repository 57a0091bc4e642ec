package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"casewatch/internal/httpx"
	"casewatch/internal/retry"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultScoringModel   = "claude-haiku-4-5"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultOpenAIBaseURL  = "https://api.openai.com"
	maxResponseTokens     = 4096
)

// Provider sends one system+user prompt pair and returns the text answer.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, LLMUsage, error)
}

type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider with SDK retries disabled; retries
// are owned by the shared retry policy. baseURL is optional.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpx.ExternalHTTPClient()),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxResponseTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d", len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("%w: no text content in Anthropic response", ErrMalformedOutput)
}

// --- OpenAI-compatible chat completions ---

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError is a non-2xx answer from an HTTP provider.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpx.ExternalHTTPClient(),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: maxResponseTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	decodeErr := json.Unmarshal(respBody, &openAIResp)

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && openAIResp.Error != nil {
			msg = openAIResp.Error.Message
		}
		log.Printf("llm openai api error status=%d: %s", resp.StatusCode, msg)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", &StatusError{StatusCode: resp.StatusCode, Message: msg})
	}
	if decodeErr != nil {
		return "", LLMUsage{}, fmt.Errorf("%w: parsing OpenAI response: %v", ErrMalformedOutput, decodeErr)
	}
	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return "", LLMUsage{}, fmt.Errorf("%w: no choices in OpenAI response", ErrMalformedOutput)
	}
	usage := LLMUsage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(openAIResp.Choices[0].Message.Content), usage.InputTokens, usage.OutputTokens)
	return openAIResp.Choices[0].Message.Content, usage, nil
}

// ClassifyError maps provider errors onto the retry classes: throttling
// backs off, client errors other than timeout and conflict fail fast, and
// everything else (network, 5xx) is retried.
func ClassifyError(err error) retry.Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent
	}
	if errors.Is(err, ErrRateLimited) {
		return retry.RateLimited
	}
	if errors.Is(err, ErrMalformedOutput) {
		return retry.Permanent
	}
	if code, ok := statusCode(err); ok {
		return classifyStatus(code)
	}
	return retry.Transient
}

func statusCode(err error) (int, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

func classifyStatus(code int) retry.Class {
	switch {
	case code == http.StatusTooManyRequests || code == 529:
		return retry.RateLimited
	case code == http.StatusRequestTimeout || code == http.StatusConflict:
		return retry.Transient
	case code >= 400 && code < 500:
		return retry.Permanent
	}
	return retry.Transient
}
