package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the InboxPilot server.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Queue    QueueConfig
	IMAP     IMAPConfig
	Auth     AuthConfig
	Policy   PolicyConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional. When URL is empty the cache and rate limiter are kept in memory.
type RedisConfig struct {
	URL string
}

type LLMConfig struct {
	Provider      string
	Model         string
	ReplyModel    string
	TriageModel   string
	ChatModel     string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	MaxInputChars int
	CacheTTL      time.Duration
	CallLogBuffer int
	OpenAI        OpenAIConfig
	VLLM          VLLMConfig
	Ollama        OllamaConfig
	Anthropic     AnthropicConfig
	Gemini        GeminiConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type VLLMConfig struct {
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
}

type AnthropicConfig struct {
	APIKey string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

// QueueConfig tunes the background worker and per-user admission control.
type QueueConfig struct {
	PollInterval       time.Duration
	RetryBase          time.Duration
	MaxRetries         int
	RateLimitPerMinute int
	MinCallInterval    time.Duration
	StaleAfter         time.Duration
}

// IMAPConfig enables the read-only Apple Mail message provider when Host is set.
type IMAPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
	Mailbox  string
}

type AuthConfig struct {
	// APIKeyHash is a bcrypt hash of the X-API-Key value. Empty disables auth.
	APIKeyHash        string
	RequestsPerMinute int
}

type PolicyConfig struct {
	File string
}

var validProviders = map[string]bool{
	"openai":    true,
	"vllm":      true,
	"ollama":    true,
	"anthropic": true,
	"gemini":    true,
	"mock":      true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	model := envString("LLM_MODEL", "gpt-4.1-mini")

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("INBOXPILOT_PORT", 8080),
			Env:  envString("INBOXPILOT_ENV", "development"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
			File:   os.Getenv("LOG_FILE"),
		},
		Database: DatabaseConfig{
			Driver:          envString("DATABASE_DRIVER", "sqlite"),
			URL:             os.Getenv("DATABASE_URL"),
			SQLitePath:      envString("SQLITE_PATH", "inboxpilot.db"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		LLM: LLMConfig{
			Provider:      envString("LLM_PROVIDER", "openai"),
			Model:         model,
			ReplyModel:    envString("LLM_REPLY_MODEL", model),
			TriageModel:   envString("LLM_TRIAGE_MODEL", model),
			ChatModel:     envString("LLM_CHAT_MODEL", model),
			MaxTokens:     envInt("LLM_MAX_TOKENS", 350),
			Temperature:   envFloat("LLM_TEMPERATURE", 0.2),
			Timeout:       envDurationSecs("LLM_TIMEOUT_SECONDS", 20*time.Second),
			MaxInputChars: envInt("LLM_MAX_INPUT_CHARS", 12000),
			CacheTTL:      envDurationSecs("LLM_CACHE_TTL_SECONDS", 7*24*time.Hour),
			CallLogBuffer: envInt("LLM_CALL_LOG_BUFFER", 256),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			},
			Gemini: GeminiConfig{
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				BaseURL: os.Getenv("GEMINI_BASE_URL"),
			},
		},
		Queue: QueueConfig{
			PollInterval:       envDurationMillis("LLM_QUEUE_POLL_MS", time.Second),
			RetryBase:          envDurationMillis("LLM_RETRY_BASE_MS", 2500*time.Millisecond),
			MaxRetries:         envInt("LLM_MAX_RETRIES", 3),
			RateLimitPerMinute: envInt("LLM_RATE_LIMIT_PER_MINUTE", 20),
			MinCallInterval:    envDurationSecs("LLM_MIN_SECONDS_BETWEEN_CALLS", 3*time.Second),
			StaleAfter:         envDuration("LLM_STALE_PROCESSING_AFTER", 10*time.Minute),
		},
		IMAP: IMAPConfig{
			Host:     os.Getenv("IMAP_HOST"),
			Port:     envString("IMAP_PORT", "993"),
			Username: os.Getenv("IMAP_USERNAME"),
			Password: os.Getenv("IMAP_PASSWORD"),
			TLS:      envBool("IMAP_TLS", true),
			Mailbox:  envString("IMAP_MAILBOX", "INBOX"),
		},
		Auth: AuthConfig{
			APIKeyHash:        os.Getenv("API_KEY_HASH"),
			RequestsPerMinute: envInt("API_REQUESTS_PER_MINUTE", 120),
		},
		Policy: PolicyConfig{
			File: os.Getenv("POLICY_FILE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite; got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER is postgres")
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER is sqlite")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("LLM_PROVIDER must be one of openai, vllm, ollama, anthropic, gemini, mock; got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER is openai")
	}
	if c.LLM.Provider == "anthropic" && c.LLM.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER is anthropic")
	}
	if c.LLM.Provider == "gemini" && c.LLM.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER is gemini")
	}
	if c.LLM.MaxInputChars <= 0 {
		return fmt.Errorf("LLM_MAX_INPUT_CHARS must be positive, got %d", c.LLM.MaxInputChars)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("LLM_QUEUE_POLL_MS must be positive")
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("LLM_MAX_RETRIES must be at least 1, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.RateLimitPerMinute < 1 {
		return fmt.Errorf("LLM_RATE_LIMIT_PER_MINUTE must be at least 1, got %d", c.Queue.RateLimitPerMinute)
	}

	if c.IMAP.Host != "" && (c.IMAP.Username == "" || c.IMAP.Password == "") {
		return fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required when IMAP_HOST is set")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
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

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

func envDurationMillis(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
