package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the docsift server.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Files     FilesConfig
	AI        AIConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port         int
	Env          string
	RateLimitRPM int
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	URL             string
	MigrationsDir   string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type FilesConfig struct {
	BaseURL         string
	APIToken        string
	Timeout         time.Duration
	MaxContentBytes int
}

type AIConfig struct {
	Providers         []ProviderConfig
	ProvidersFile     string
	HealthInterval    time.Duration
	RequestsPerMinute int
}

// ProviderConfig describes one AI backend to register at startup.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"-"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	Priority  int    `yaml:"priority"`
}

type SchedulerConfig struct {
	MaxConcurrent     int
	MaxRetries        int
	JobTimeout        time.Duration
	QueueSize         int
	ReconcileInterval time.Duration
	RetryBackoffBase  time.Duration
	RetryBackoffMax   time.Duration
	NoProviderPolicy  string
	ShutdownTimeout   time.Duration
}

type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	NoProviderReject   = "reject"
	NoProviderDegraded = "degraded"
)

var validProviderTypes = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

var defaultBaseURLs = map[string]string{
	"ollama":    "http://localhost:11434",
	"vllm":      "http://localhost:8000",
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com",
}

var defaultModels = map[string]string{
	"ollama":    "llama3",
	"openai":    "gpt-4",
	"anthropic": "claude-sonnet-4-5-20250929",
	"mock":      "mock-v1",
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         envInt("DOCSIFT_PORT", 8080),
			Env:          envString("DOCSIFT_ENV", "development"),
			RateLimitRPM: envInt("RATE_LIMIT_RPM", 60),
		},
		Log: LogConfig{
			Level:  envString("DOCSIFT_LOG_LEVEL", "info"),
			Format: envString("DOCSIFT_LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Driver: envString("STORE_DRIVER", StoreDriverPostgres),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Files: FilesConfig{
			BaseURL:         os.Getenv("FILES_BASE_URL"),
			APIToken:        os.Getenv("FILES_API_TOKEN"),
			Timeout:         envDuration("FILES_TIMEOUT", 30*time.Second),
			MaxContentBytes: envInt("FILES_MAX_CONTENT_BYTES", 200_000),
		},
		AI: AIConfig{
			ProvidersFile:     os.Getenv("AI_PROVIDERS_FILE"),
			HealthInterval:    envDuration("AI_HEALTH_INTERVAL", time.Minute),
			RequestsPerMinute: envInt("AI_REQUESTS_PER_MINUTE", 60),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:     envInt("SCHEDULER_MAX_CONCURRENT", 3),
			MaxRetries:        envInt("SCHEDULER_MAX_RETRIES", 3),
			JobTimeout:        envDurationSecs("SCHEDULER_JOB_TIMEOUT_SECS", 120*time.Second),
			QueueSize:         envInt("SCHEDULER_QUEUE_SIZE", 256),
			ReconcileInterval: envDuration("SCHEDULER_RECONCILE_INTERVAL", 30*time.Second),
			RetryBackoffBase:  envDuration("SCHEDULER_RETRY_BACKOFF_BASE", 2*time.Second),
			RetryBackoffMax:   envDuration("SCHEDULER_RETRY_BACKOFF_MAX", time.Minute),
			NoProviderPolicy:  envString("SCHEDULER_NO_PROVIDER_POLICY", NoProviderReject),
			ShutdownTimeout:   envDuration("SCHEDULER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Retention: RetentionConfig{
			MaxAge:   envDuration("JOB_RETENTION", 0),
			Interval: envDuration("JOB_RETENTION_INTERVAL", time.Hour),
		},
	}

	if cfg.AI.ProvidersFile != "" {
		providers, err := LoadProvidersFile(cfg.AI.ProvidersFile)
		if err != nil {
			return nil, err
		}
		cfg.AI.Providers = providers
	} else {
		cfg.AI.Providers = providersFromEnv(envList("AI_PROVIDERS"))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// providersFromEnv builds one ProviderConfig per listed name. Each name doubles as the
// provider type and as the env prefix (OPENAI_API_KEY, OPENAI_MODEL, ...).
func providersFromEnv(names []string) []ProviderConfig {
	providers := make([]ProviderConfig, 0, len(names))
	for _, name := range names {
		prefix := strings.ToUpper(name)
		providers = append(providers, ProviderConfig{
			Name:     name,
			Type:     name,
			BaseURL:  envString(prefix+"_BASE_URL", defaultBaseURLs[name]),
			APIKey:   os.Getenv(prefix + "_API_KEY"),
			Model:    envString(prefix+"_MODEL", defaultModels[name]),
			Priority: envInt(prefix+"_PRIORITY", 0),
		})
	}
	return providers
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProvidersFile reads a YAML provider registry. API keys are never stored in the file;
// each entry names the environment variable holding its key.
func LoadProvidersFile(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read AI_PROVIDERS_FILE: %w", err)
	}
	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse AI_PROVIDERS_FILE: %w", err)
	}
	for i := range f.Providers {
		p := &f.Providers[i]
		if p.Type == "" {
			p.Type = p.Name
		}
		if p.BaseURL == "" {
			p.BaseURL = defaultBaseURLs[p.Type]
		}
		if p.Model == "" {
			p.Model = defaultModels[p.Type]
		}
		if p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
	return f.Providers, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, memory; got %q", c.Store.Driver)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Files.BaseURL == "" {
		return fmt.Errorf("FILES_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Files.BaseURL, "http://") && !strings.HasPrefix(c.Files.BaseURL, "https://") {
		return fmt.Errorf("FILES_BASE_URL must start with http:// or https://, got %q", c.Files.BaseURL)
	}

	if len(c.AI.Providers) == 0 {
		return fmt.Errorf("AI_PROVIDERS is required (or AI_PROVIDERS_FILE)")
	}
	seen := make(map[string]bool)
	for _, p := range c.AI.Providers {
		if p.Name == "" {
			return fmt.Errorf("AI provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("AI provider %q is configured twice", p.Name)
		}
		seen[p.Name] = true
		if !validProviderTypes[p.Type] {
			return fmt.Errorf("AI provider %q: type must be one of ollama, vllm, openai, anthropic, mock; got %q", p.Name, p.Type)
		}
		if (p.Type == "openai" || p.Type == "anthropic") && p.APIKey == "" {
			return fmt.Errorf("AI provider %q: API key is required for type %s", p.Name, p.Type)
		}
		if p.Type == "vllm" && p.Model == "" {
			return fmt.Errorf("AI provider %q: model is required for type vllm", p.Name)
		}
	}

	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("SCHEDULER_MAX_CONCURRENT must be at least 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("SCHEDULER_MAX_RETRIES must not be negative, got %d", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.JobTimeout <= 0 {
		return fmt.Errorf("SCHEDULER_JOB_TIMEOUT_SECS must be positive")
	}
	if c.Scheduler.NoProviderPolicy != NoProviderReject && c.Scheduler.NoProviderPolicy != NoProviderDegraded {
		return fmt.Errorf("SCHEDULER_NO_PROVIDER_POLICY must be one of reject, degraded; got %q", c.Scheduler.NoProviderPolicy)
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

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
