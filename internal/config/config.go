package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

// ErrMissingCredentials is returned when a command needs the oracle and the
// selected provider has no API key.
var ErrMissingCredentials = errors.New("missing oracle credentials")

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	LLMScoringModel string `yaml:"llm_scoring_model"`
	LLMBaseURL      string `yaml:"llm_base_url"`
	LLMGuidancePath string `yaml:"llm_guidance_path"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GlossaryPath    string `yaml:"escalation_glossary_path"`

	OracleMinIntervalMS    int `yaml:"oracle_min_interval_ms"`
	RetryMaxAttempts       int `yaml:"retry_max_attempts"`
	RetryRateLimitAttempts int `yaml:"retry_rate_limit_attempts"`
	RetryBaseDelayMS       int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS        int `yaml:"retry_max_delay_ms"`

	StoreBackend string `yaml:"store_backend"`
	StorePath    string `yaml:"store_path"`
	DBPath       string `yaml:"db_path"`

	Gate1AvgThreshold  float64 `yaml:"gate1_avg_threshold"`
	Gate1PeakThreshold float64 `yaml:"gate1_peak_threshold"`
	Gate2Threshold     float64 `yaml:"gate2_threshold"`
	StageBCap          int     `yaml:"stage_b_cap"`
	StageCCap          int     `yaml:"stage_c_cap"`

	HealthCriticalThreshold     float64 `yaml:"health_critical_threshold"`
	HealthCatastrophicThreshold float64 `yaml:"health_catastrophic_threshold"`
	RecentWindowDays            int     `yaml:"recent_window_days"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	SlackBotToken           string   `yaml:"slack_bot_token"`
	SlackChannelID          string   `yaml:"slack_channel_id"`
	SlackAlertThreshold     float64  `yaml:"slack_alert_threshold"`
	SlackEscalationContacts []string `yaml:"slack_escalation_contacts"`

	Schedule string `yaml:"schedule"`
	InboxDir string `yaml:"inbox_dir"`
	Timezone string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig reads .env (ENV_FILE, default ".env"), then config.yaml
// (CONFIG_PATH), then environment overrides, fills defaults and validates.
// Variables already set in the environment win over .env entries.
func LoadConfig() (Config, error) {
	var cfg Config

	envFile := ".env"
	if p := os.Getenv("ENV_FILE"); p != "" {
		envFile = p
	}
	if err := godotenv.Load(envFile); err == nil {
		log.Printf("Loaded environment from %s", envFile)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load %s: %w", envFile, err)
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMScoringModel, "LLM_SCORING_MODEL")
	envOverrideAllowEmpty(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverride(&cfg.LLMGuidancePath, "LLM_GUIDANCE_PATH")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GlossaryPath, "ESCALATION_GLOSSARY_PATH")
	collect(envOverrideInt(&cfg.OracleMinIntervalMS, "ORACLE_MIN_INTERVAL_MS"))
	collect(envOverrideInt(&cfg.RetryMaxAttempts, "RETRY_MAX_ATTEMPTS"))
	collect(envOverrideInt(&cfg.RetryRateLimitAttempts, "RETRY_RATE_LIMIT_ATTEMPTS"))
	collect(envOverrideInt(&cfg.RetryBaseDelayMS, "RETRY_BASE_DELAY_MS"))
	collect(envOverrideInt(&cfg.RetryMaxDelayMS, "RETRY_MAX_DELAY_MS"))
	envOverride(&cfg.StoreBackend, "STORE_BACKEND")
	envOverride(&cfg.StorePath, "STORE_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	collect(envOverrideFloat(&cfg.Gate1AvgThreshold, "GATE1_AVG_THRESHOLD"))
	collect(envOverrideFloat(&cfg.Gate1PeakThreshold, "GATE1_PEAK_THRESHOLD"))
	collect(envOverrideFloat(&cfg.Gate2Threshold, "GATE2_THRESHOLD"))
	collect(envOverrideInt(&cfg.StageBCap, "STAGE_B_CAP"))
	collect(envOverrideInt(&cfg.StageCCap, "STAGE_C_CAP"))
	collect(envOverrideFloat(&cfg.HealthCriticalThreshold, "HEALTH_CRITICAL_THRESHOLD"))
	collect(envOverrideFloat(&cfg.HealthCatastrophicThreshold, "HEALTH_CATASTROPHIC_THRESHOLD"))
	collect(envOverrideInt(&cfg.RecentWindowDays, "RECENT_WINDOW_DAYS"))
	collect(envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"))
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	collect(envOverrideFloat(&cfg.SlackAlertThreshold, "SLACK_ALERT_THRESHOLD"))
	envOverrideList(&cfg.SlackEscalationContacts, "SLACK_ESCALATION_CONTACTS")
	envOverrideAllowEmpty(&cfg.Schedule, "SCHEDULE")
	envOverride(&cfg.InboxDir, "INBOX_DIR")
	envOverride(&cfg.Timezone, "TIMEZONE")
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLMProvider == "" {
		c.LLMProvider = "anthropic"
	}
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryRateLimitAttempts == 0 {
		c.RetryRateLimitAttempts = 5
	}
	if c.RetryBaseDelayMS == 0 {
		c.RetryBaseDelayMS = 1000
	}
	if c.RetryMaxDelayMS == 0 {
		c.RetryMaxDelayMS = 30000
	}
	if c.StoreBackend == "" {
		c.StoreBackend = BackendJSON
	}
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if c.StorePath == "" {
		c.StorePath = "./data/case_cache.json"
	}
	if c.DBPath == "" {
		c.DBPath = "./data/casewatch.db"
	}
	if c.Gate1AvgThreshold == 0 {
		c.Gate1AvgThreshold = 3.0
	}
	if c.Gate1PeakThreshold == 0 {
		c.Gate1PeakThreshold = 6.0
	}
	if c.Gate2Threshold == 0 {
		c.Gate2Threshold = 175
	}
	if c.StageBCap == 0 {
		c.StageBCap = 25
	}
	if c.StageCCap == 0 {
		c.StageCCap = 10
	}
	if c.HealthCriticalThreshold == 0 {
		c.HealthCriticalThreshold = 180
	}
	if c.HealthCatastrophicThreshold == 0 {
		c.HealthCatastrophicThreshold = 200
	}
	if c.RecentWindowDays == 0 {
		c.RecentWindowDays = 14
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.SlackAlertThreshold == 0 {
		c.SlackAlertThreshold = 60
	}
	if c.InboxDir == "" {
		c.InboxDir = "./inbox"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
}

// Validate checks every setting that does not depend on which command runs.
// It also resolves Location.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.LLMProvider {
	case "anthropic", "openai":
	default:
		bad("llm_provider must be 'anthropic' or 'openai', got '%s'", c.LLMProvider)
	}
	switch c.StoreBackend {
	case BackendJSON, BackendSQLite:
	default:
		bad("store_backend must be '%s' or '%s', got '%s'", BackendJSON, BackendSQLite, c.StoreBackend)
	}
	if c.Gate1AvgThreshold < 0 || c.Gate1AvgThreshold > 10 {
		bad("invalid gate1_avg_threshold '%g': must be between 0 and 10", c.Gate1AvgThreshold)
	}
	if c.Gate1PeakThreshold < 0 || c.Gate1PeakThreshold > 10 {
		bad("invalid gate1_peak_threshold '%g': must be between 0 and 10", c.Gate1PeakThreshold)
	}
	if c.Gate2Threshold < 0 {
		bad("invalid gate2_threshold '%g': must be >= 0", c.Gate2Threshold)
	}
	if c.StageBCap < 1 {
		bad("invalid stage_b_cap '%d': must be >= 1", c.StageBCap)
	}
	if c.StageCCap < 1 {
		bad("invalid stage_c_cap '%d': must be >= 1", c.StageCCap)
	}
	if c.HealthCatastrophicThreshold < c.HealthCriticalThreshold {
		bad("health_catastrophic_threshold '%g' must be >= health_critical_threshold '%g'", c.HealthCatastrophicThreshold, c.HealthCriticalThreshold)
	}
	if c.RecentWindowDays < 1 {
		bad("invalid recent_window_days '%d': must be >= 1", c.RecentWindowDays)
	}
	if c.RetryMaxAttempts < 1 || c.RetryRateLimitAttempts < 1 {
		bad("retry attempts must be >= 1")
	}
	if c.RetryBaseDelayMS < 0 || c.RetryMaxDelayMS < c.RetryBaseDelayMS {
		bad("invalid retry delays base=%dms max=%dms", c.RetryBaseDelayMS, c.RetryMaxDelayMS)
	}
	if c.OracleMinIntervalMS < 0 {
		bad("invalid oracle_min_interval_ms '%d': must be >= 0", c.OracleMinIntervalMS)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		bad("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.SlackAlertThreshold < 0 || c.SlackAlertThreshold > 100 {
		bad("invalid slack_alert_threshold '%g': must be between 0 and 100", c.SlackAlertThreshold)
	}
	if c.SlackBotToken != "" && c.SlackChannelID == "" {
		bad("slack_bot_token is set but slack_channel_id is not")
	}
	if c.GlossaryPath != "" {
		if _, err := os.Stat(c.GlossaryPath); err != nil {
			bad("invalid escalation_glossary_path '%s': %v", c.GlossaryPath, err)
		}
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else if loc, err := time.LoadLocation(c.Timezone); err != nil {
		bad("invalid timezone '%s': %v", c.Timezone, err)
	} else {
		c.Location = loc
	}
	return errors.Join(errs...)
}

// RequireOracleCredentials is checked only by commands that call the oracle.
func (c Config) RequireOracleCredentials() error {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("%w: anthropic_api_key is required when llm_provider=anthropic", ErrMissingCredentials)
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: openai_api_key is required when llm_provider=openai", ErrMissingCredentials)
		}
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) RecentWindow() time.Duration {
	return time.Duration(c.RecentWindowDays) * 24 * time.Hour
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideList(field *[]string, envKey string) {
	if vals := os.Getenv(envKey); vals != "" {
		*field = nil
		for _, v := range strings.Split(vals, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				*field = append(*field, v)
			}
		}
	}
}
