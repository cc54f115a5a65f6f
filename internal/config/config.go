package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the BuildWatch server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AzureDevOps AzureDevOpsConfig
	AI          AIConfig
	Notify      NotifyConfig
	Archive     ArchiveConfig
	Worker      WorkerConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	IngestToken     string
	IngestTokenHash string
	IngestRateLimit int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL disables ingestion rate limiting.
type RedisConfig struct {
	URL string
}

type AzureDevOpsConfig struct {
	BaseURL     string
	Org         string
	Project     string
	PAT         string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxSegments int
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
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
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type NotifyConfig struct {
	TeamsWebhookURL string
	Timeout         time.Duration
	KafkaBrokers    []string
	KafkaTopic      string
}

// ArchiveConfig is optional; an empty bucket disables log archiving.
type ArchiveConfig struct {
	Bucket  string
	Prefix  string
	Region  string
	Timeout time.Duration
}

type WorkerConfig struct {
	Count           int
	QueueSize       int
	LeaseTTL        time.Duration
	ShutdownTimeout time.Duration
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
// Missing optional credentials never fail Load; the dependent feature is disabled instead.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("BUILDWATCH_PORT", 8080),
			Env:             envString("BUILDWATCH_ENV", "development"),
			IngestToken:     os.Getenv("INGEST_TOKEN"),
			IngestTokenHash: os.Getenv("INGEST_TOKEN_HASH"),
			IngestRateLimit: envInt("INGEST_RATE_LIMIT", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AzureDevOps: AzureDevOpsConfig{
			BaseURL:     strings.TrimRight(envString("AZURE_DEVOPS_BASE_URL", "https://dev.azure.com"), "/"),
			Org:         os.Getenv("AZURE_DEVOPS_ORG"),
			Project:     os.Getenv("AZURE_DEVOPS_PROJECT"),
			PAT:         os.Getenv("AZURE_DEVOPS_PAT"),
			Timeout:     envDuration("AZURE_DEVOPS_TIMEOUT", 10*time.Second),
			MaxAttempts: envInt("LOG_FETCH_MAX_ATTEMPTS", 3),
			BaseDelay:   envDuration("LOG_FETCH_BASE_DELAY", time.Second),
			MaxSegments: envInt("LOG_FETCH_MAX_SEGMENTS", 3),
		},
		AI: loadAIConfig(),
		Notify: NotifyConfig{
			TeamsWebhookURL: os.Getenv("TEAMS_WEBHOOK_URL"),
			Timeout:         envDuration("NOTIFY_TIMEOUT", 10*time.Second),
			KafkaBrokers:    envList("KAFKA_BROKERS"),
			KafkaTopic:      envString("KAFKA_TOPIC", "build-analyses"),
		},
		Archive: ArchiveConfig{
			Bucket:  os.Getenv("LOG_ARCHIVE_BUCKET"),
			Prefix:  os.Getenv("LOG_ARCHIVE_PREFIX"),
			Region:  os.Getenv("LOG_ARCHIVE_REGION"),
			Timeout: envDuration("LOG_ARCHIVE_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			Count:           envInt("WORKER_COUNT", 4),
			QueueSize:       envInt("WORKER_QUEUE_SIZE", 100),
			LeaseTTL:        envDuration("LEASE_TTL", 10*time.Minute),
			ShutdownTimeout: envDuration("WORKER_SHUTDOWN_TIMEOUT", 60*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if !strings.HasPrefix(c.AzureDevOps.BaseURL, "http://") && !strings.HasPrefix(c.AzureDevOps.BaseURL, "https://") {
		return fmt.Errorf("AZURE_DEVOPS_BASE_URL must start with http:// or https://, got %q", c.AzureDevOps.BaseURL)
	}
	if c.AzureDevOps.MaxAttempts < 1 {
		return fmt.Errorf("LOG_FETCH_MAX_ATTEMPTS must be at least 1, got %d", c.AzureDevOps.MaxAttempts)
	}
	if c.AzureDevOps.BaseDelay <= 0 {
		return fmt.Errorf("LOG_FETCH_BASE_DELAY must be positive, got %s", c.AzureDevOps.BaseDelay)
	}
	if c.AzureDevOps.MaxSegments < 1 {
		return fmt.Errorf("LOG_FETCH_MAX_SEGMENTS must be at least 1, got %d", c.AzureDevOps.MaxSegments)
	}

	if err := c.AI.validate(); err != nil {
		return err
	}

	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive, got %s", c.Notify.Timeout)
	}
	if c.Archive.Timeout <= 0 {
		return fmt.Errorf("LOG_ARCHIVE_TIMEOUT must be positive, got %s", c.Archive.Timeout)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be at least 1, got %d", c.Worker.QueueSize)
	}
	if c.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("LEASE_TTL must be positive, got %s", c.Worker.LeaseTTL)
	}

	return nil
}

// LoadAI reads and validates only the diagnosis provider settings. Offline
// tools use it where no database is configured.
func LoadAI() (AIConfig, error) {
	cfg := loadAIConfig()
	if err := cfg.validate(); err != nil {
		return AIConfig{}, err
	}
	return cfg, nil
}

func (c AIConfig) validate() error {
	if !validProviders[c.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.Provider)
	}
	if c.Provider == "openai" && c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.Provider == "anthropic" && c.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	return nil
}

func loadAIConfig() AIConfig {
	return AIConfig{
		Provider:         envString("AI_PROVIDER", "ollama"),
		InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
		Ollama: OllamaConfig{
			BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
			Model:   envString("OLLAMA_MODEL", "llama3.2:3b"),
		},
		VLLM: VLLMConfig{
			BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
			Model:   envString("VLLM_MODEL", ""),
		},
		OpenAI: OpenAIConfig{
			BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Anthropic: AnthropicConfig{
			BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		},
	}
}

// LogFetchEnabled reports whether Azure DevOps log retrieval has credentials.
func (c AzureDevOpsConfig) LogFetchEnabled() bool {
	return c.PAT != ""
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

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
