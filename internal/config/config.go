package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the riskscan server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Governor GovernorConfig
	Worker   WorkerConfig
	Source   SourceConfig
	Taxonomy string
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	TextProviders       []string
	MultiModalProviders []string
	InferenceTimeout    time.Duration
	MaxAttempts         int
	BackoffBase         time.Duration
	Ollama              OllamaConfig
	VLLM                VLLMConfig
	OpenAI              OpenAIConfig
	Anthropic           AnthropicConfig
	Gemini              GeminiConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GovernorConfig configures per-provider request and token ceilings.
type GovernorConfig struct {
	Backend          string
	Window           time.Duration
	WarningThreshold float64
	Default          ProviderLimit
	Limits           map[string]ProviderLimit
}

// ProviderLimit is a request-per-window and tokens-per-minute ceiling.
type ProviderLimit struct {
	RequestsPerWindow int
	TokensPerMinute   int
}

type WorkerConfig struct {
	JobTimeout   time.Duration
	ChainDelay   time.Duration
	PollInterval time.Duration
	BatchRetries int
	APITokenHash string
	TriggerRPM   int
}

type SourceConfig struct {
	FetchTimeout time.Duration
	MaxBytes     int64
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"mock":      true,
}

var validBackends = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("RISKSCAN_PORT", 8080),
			Env:  envString("RISKSCAN_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			TextProviders:       envList("AI_TEXT_PROVIDERS", []string{"openai", "anthropic", "ollama"}),
			MultiModalProviders: envList("AI_MULTIMODAL_PROVIDERS", []string{"gemini"}),
			InferenceTimeout:    envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			MaxAttempts:         envInt("AI_MAX_ATTEMPTS", 3),
			BackoffBase:         envDuration("AI_BACKOFF_BASE", time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			},
			Gemini: GeminiConfig{
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "gemini-2.0-flash"),
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			},
		},
		Governor: GovernorConfig{
			Backend:          envString("GOVERNOR_BACKEND", "memory"),
			Window:           envDuration("GOVERNOR_WINDOW", time.Minute),
			WarningThreshold: envFloat("GOVERNOR_WARNING_THRESHOLD", 0.9),
			Default: ProviderLimit{
				RequestsPerWindow: envInt("GOVERNOR_DEFAULT_RPM", 60),
				TokensPerMinute:   envInt("GOVERNOR_DEFAULT_TPM", 100000),
			},
		},
		Worker: WorkerConfig{
			JobTimeout:   envDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),
			ChainDelay:   envDuration("WORKER_CHAIN_DELAY", 2*time.Second),
			PollInterval: envDuration("WORKER_POLL_INTERVAL", 30*time.Second),
			BatchRetries: envInt("WORKER_BATCH_RETRIES", 2),
			APITokenHash: os.Getenv("WORKER_API_TOKEN_HASH"),
			TriggerRPM:   envInt("WORKER_TRIGGER_RPM", 30),
		},
		Source: SourceConfig{
			FetchTimeout: envDuration("SOURCE_FETCH_TIMEOUT", 20*time.Second),
			MaxBytes:     int64(envInt("SOURCE_MAX_BYTES", 2<<20)),
		},
		Taxonomy: os.Getenv("TAXONOMY_FILE"),
	}

	cfg.Governor.Limits = providerLimits(cfg.allProviders(), cfg.Governor.Default)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if len(c.AI.TextProviders) == 0 {
		return fmt.Errorf("AI_TEXT_PROVIDERS must name at least one provider")
	}
	for _, p := range c.allProviders() {
		if !validProviders[p] {
			return fmt.Errorf("unknown AI provider %q; must be one of ollama, vllm, openai, anthropic, gemini, mock", p)
		}
	}

	if c.uses("openai") && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when openai is configured")
	}
	if c.uses("anthropic") && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when anthropic is configured")
	}
	if c.uses("gemini") && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when gemini is configured")
	}
	if c.uses("vllm") && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when vllm is configured")
	}

	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be at least 1, got %d", c.AI.MaxAttempts)
	}

	if !validBackends[c.Governor.Backend] {
		return fmt.Errorf("GOVERNOR_BACKEND must be one of memory, redis; got %q", c.Governor.Backend)
	}
	if c.Governor.WarningThreshold <= 0 || c.Governor.WarningThreshold > 1 {
		return fmt.Errorf("GOVERNOR_WARNING_THRESHOLD must be in (0, 1], got %v", c.Governor.WarningThreshold)
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("WORKER_JOB_TIMEOUT must be positive")
	}
	if c.Worker.BatchRetries < 0 {
		return fmt.Errorf("WORKER_BATCH_RETRIES must not be negative")
	}

	return nil
}

// allProviders returns the text chain followed by the multimodal chain, deduplicated.
func (c *Config) allProviders() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(append([]string{}, c.AI.TextProviders...), c.AI.MultiModalProviders...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) uses(provider string) bool {
	for _, p := range c.allProviders() {
		if p == provider {
			return true
		}
	}
	return false
}

func providerLimits(providers []string, def ProviderLimit) map[string]ProviderLimit {
	limits := make(map[string]ProviderLimit, len(providers))
	for _, p := range providers {
		prefix := "GOVERNOR_" + strings.ToUpper(p)
		limits[p] = ProviderLimit{
			RequestsPerWindow: envInt(prefix+"_RPM", def.RequestsPerWindow),
			TokensPerMinute:   envInt(prefix+"_TPM", def.TokensPerMinute),
		}
	}
	return limits
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(strings.ToLower(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
