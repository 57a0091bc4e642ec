package app

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"casewatch/internal/config"
	"casewatch/internal/integrations/llm"
	"casewatch/internal/retry"
)

type oracleFactory func(cfg config.Config) (llm.Oracle, error)

// buildOracle wires the configured provider into an oracle client. Missing
// credentials are reported before any case is processed.
func buildOracle(cfg config.Config) (llm.Oracle, error) {
	if err := cfg.RequireOracleCredentials(); err != nil {
		return nil, err
	}

	var provider llm.Provider
	switch cfg.LLMProvider {
	case "openai":
		provider = llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.LLMBaseURL)
	default:
		provider = llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.LLMBaseURL)
	}

	var guidance string
	if cfg.LLMGuidancePath != "" {
		data, err := os.ReadFile(cfg.LLMGuidancePath)
		if err != nil {
			log.Printf("WARNING: guidance file %s unreadable, continuing without it: %v", cfg.LLMGuidancePath, err)
		} else {
			guidance = strings.TrimSpace(string(data))
		}
	}

	var glossary *llm.Glossary
	if cfg.GlossaryPath != "" {
		g, err := llm.LoadGlossary(cfg.GlossaryPath)
		if err != nil {
			return nil, fmt.Errorf("load escalation glossary: %w", err)
		}
		glossary = g
		log.Printf("Escalation glossary loaded path=%s floors=%d", cfg.GlossaryPath, len(g.Floors))
	}

	policy := retry.Policy{
		MaxAttempts:       cfg.RetryMaxAttempts,
		RateLimitAttempts: cfg.RetryRateLimitAttempts,
		BaseDelay:         time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
		Classify:          llm.ClassifyError,
	}
	return llm.NewClient(provider, llm.ClientConfig{
		ScoringModel: cfg.LLMScoringModel,
		DeepModel:    cfg.LLMModel,
		Guidance:     guidance,
		Glossary:     glossary,
		Policy:       policy,
		MinInterval:  time.Duration(cfg.OracleMinIntervalMS) * time.Millisecond,
	}), nil
}
