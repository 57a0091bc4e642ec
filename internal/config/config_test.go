package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing-config.yaml"))
	t.Setenv("TIMEZONE", "UTC")
	return dir
}

func TestLoadConfigFromEnvWithDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("SLACK_ESCALATION_CONTACTS", "U12345678, dana ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("unexpected provider: %q", cfg.LLMProvider)
	}
	if cfg.StoreBackend != BackendJSON || cfg.StorePath != "./data/case_cache.json" {
		t.Fatalf("unexpected store defaults: %q %q", cfg.StoreBackend, cfg.StorePath)
	}
	if cfg.Gate1AvgThreshold != 3 || cfg.Gate1PeakThreshold != 6 || cfg.Gate2Threshold != 175 {
		t.Fatalf("unexpected gate defaults: %+v", cfg)
	}
	if cfg.StageBCap != 25 || cfg.StageCCap != 10 {
		t.Fatalf("unexpected caps: %d %d", cfg.StageBCap, cfg.StageCCap)
	}
	if cfg.ExternalHTTPTimeoutSeconds != int(defaultExternalHTTPTimeout/time.Second) {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.SlackAlertThreshold != 60 {
		t.Fatalf("unexpected alert threshold: %g", cfg.SlackAlertThreshold)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if len(cfg.SlackEscalationContacts) != 2 || cfg.SlackEscalationContacts[1] != "dana" {
		t.Fatalf("unexpected contacts: %q", cfg.SlackEscalationContacts)
	}
	if cfg.RecentWindow() != 14*24*time.Hour {
		t.Fatalf("unexpected recent window: %s", cfg.RecentWindow())
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	dir := isolate(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
store_backend: "sqlite"
db_path: "/tmp/yaml.db"
gate2_threshold: 150
stage_c_cap: 4
slack_bot_token: "xoxb-yaml"
slack_channel_id: "C123"
schedule: "0 7 * * 1-5"
timezone: "America/Los_Angeles"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("TIMEZONE", "")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("STAGE_B_CAP", "7")
	t.Setenv("GATE1_PEAK_THRESHOLD", "5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StoreBackend != BackendSQLite || cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("unexpected store settings: %q %q", cfg.StoreBackend, cfg.DBPath)
	}
	if cfg.Gate2Threshold != 150 || cfg.StageCCap != 4 {
		t.Fatalf("expected yaml gate settings, got %g %d", cfg.Gate2Threshold, cfg.StageCCap)
	}
	if cfg.StageBCap != 7 || cfg.Gate1PeakThreshold != 5 {
		t.Fatalf("expected env overrides, got %d %g", cfg.StageBCap, cfg.Gate1PeakThreshold)
	}
	if !cfg.SlackConfigured() {
		t.Fatal("expected slack to be configured")
	}
	if cfg.Location.String() != "America/Los_Angeles" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if err := cfg.RequireOracleCredentials(); err != nil {
		t.Fatalf("expected credentials from yaml: %v", err)
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := isolate(t)
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CW_TEST_DOTENV_CHANNEL=C_FROM_DOTENV\nINBOX_DIR=/tmp/from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("ENV_FILE", envPath)
	t.Setenv("INBOX_DIR", "/tmp/from-env")
	t.Cleanup(func() { _ = os.Unsetenv("CW_TEST_DOTENV_CHANNEL") })

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := os.Getenv("CW_TEST_DOTENV_CHANNEL"); got != "C_FROM_DOTENV" {
		t.Fatalf("expected .env to populate the environment, got %q", got)
	}
	if cfg.InboxDir != "/tmp/from-env" {
		t.Fatalf("existing environment must win over .env, got %q", cfg.InboxDir)
	}
}

func TestLoadConfigCollectsErrors(t *testing.T) {
	isolate(t)
	t.Setenv("STAGE_B_CAP", "many")
	t.Setenv("GATE2_THRESHOLD", "high")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected parse errors")
	}
	for _, want := range []string{"STAGE_B_CAP", "GATE2_THRESHOLD"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got: %v", want, err)
		}
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Config{Timezone: "UTC"}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"provider", func(c *Config) { c.LLMProvider = "bard" }, "llm_provider"},
		{"backend", func(c *Config) { c.StoreBackend = "postgres" }, "store_backend"},
		{"avg threshold", func(c *Config) { c.Gate1AvgThreshold = 11 }, "gate1_avg_threshold"},
		{"cap", func(c *Config) { c.StageCCap = -1 }, "stage_c_cap"},
		{"health thresholds", func(c *Config) { c.HealthCatastrophicThreshold = 100 }, "health_catastrophic_threshold"},
		{"timeout", func(c *Config) { c.ExternalHTTPTimeoutSeconds = 2 }, "external_http_timeout_seconds"},
		{"slack channel", func(c *Config) { c.SlackBotToken = "xoxb" }, "slack_channel_id"},
		{"glossary", func(c *Config) { c.GlossaryPath = "/nonexistent/glossary.yaml" }, "escalation_glossary_path"},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Colony" }, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRequireOracleCredentials(t *testing.T) {
	c := Config{LLMProvider: "openai"}
	if err := c.RequireOracleCredentials(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	c.OpenAIAPIKey = "sk-test"
	if err := c.RequireOracleCredentials(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c = Config{LLMProvider: "anthropic", OpenAIAPIKey: "sk-test"}
	if err := c.RequireOracleCredentials(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	s := "initial"
	t.Setenv("CW_TEST_STR", "value")
	envOverride(&s, "CW_TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride failed, got %q", s)
	}

	i := 1
	t.Setenv("CW_TEST_INT", "42")
	if err := envOverrideInt(&i, "CW_TEST_INT"); err != nil || i != 42 {
		t.Fatalf("envOverrideInt failed, got %d err=%v", i, err)
	}
	t.Setenv("CW_TEST_INT", "x")
	if err := envOverrideInt(&i, "CW_TEST_INT"); err == nil || i != 42 {
		t.Fatalf("expected parse error to leave value, got %d err=%v", i, err)
	}

	f := 0.1
	t.Setenv("CW_TEST_FLOAT", "0.75")
	if err := envOverrideFloat(&f, "CW_TEST_FLOAT"); err != nil || f != 0.75 {
		t.Fatalf("envOverrideFloat failed, got %f err=%v", f, err)
	}

	e := "keep"
	t.Setenv("CW_TEST_EMPTY", "")
	envOverrideAllowEmpty(&e, "CW_TEST_EMPTY")
	if e != "" {
		t.Fatalf("envOverrideAllowEmpty should clear the value, got %q", e)
	}
}
