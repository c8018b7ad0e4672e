package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outreach engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Orphaned   OrphanedConfig   `yaml:"orphaned"`
	Provider   ProviderConfig   `yaml:"provider"`
	Responder  ResponderConfig  `yaml:"responder"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	AI         AIConfig         `yaml:"ai"`
	Import     ImportConfig     `yaml:"import"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	CRM        CRMConfig        `yaml:"crm"`
	Quality    QualityConfig    `yaml:"quality"`
	Outreach   OutreachConfig   `yaml:"outreach"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// RedisConfig holds the Redis connection used for caches and shared
// rate-limit counters.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// QueueConfig tunes the durable job queue.
type QueueConfig struct {
	MaxSize       int `yaml:"max_size"`
	BatchSize     int `yaml:"batch_size"`
	StaleLeaseSec int `yaml:"stale_lease_sec"`
	NumWorkers    int `yaml:"num_workers"`
}

// StaleLease returns the stale-lease threshold as a duration.
func (c QueueConfig) StaleLease() time.Duration {
	return time.Duration(c.StaleLeaseSec) * time.Second
}

// OrphanedConfig tunes the orphaned-event retry queue.
type OrphanedConfig struct {
	MaxSize        int   `yaml:"max_size"`
	BatchSize      int   `yaml:"batch_size"`
	MaxAttempts    int   `yaml:"max_attempts"`
	RetryDelaysSec []int `yaml:"retry_delays_sec"`
}

// RetryDelays returns the per-attempt delays as durations.
func (c OrphanedConfig) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(c.RetryDelaysSec))
	for i, s := range c.RetryDelaysSec {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	ErrorThresholdPct float64 `yaml:"error_threshold_pct"`
	ResetMs           int     `yaml:"reset_ms"`
	WindowMs          int     `yaml:"window_ms"`
	MinVolume         int     `yaml:"min_volume"`
}

// ProviderConfig selects and tunes the outreach providers.
type ProviderConfig struct {
	Email struct {
		Provider          string `yaml:"provider"` // "primary" | "secondary"
		FallbackOnFailure bool   `yaml:"fallback_on_failure"`
	} `yaml:"email"`
	LinkedIn struct {
		Provider   string `yaml:"provider"`
		DailyLimit int    `yaml:"daily_limit"`
	} `yaml:"linkedin"`
	TimeoutMs int           `yaml:"timeout_ms"`
	Breaker   BreakerConfig `yaml:"breaker"`
	RateLimit struct {
		PerMinute int `yaml:"per_minute"`
	} `yaml:"rate_limit"`

	Lemlist struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"lemlist"`
	Postmark struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"postmark"`
	PhantomBuster struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"phantombuster"`
	HeyGen struct {
		BaseURL string `yaml:"base_url"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"heygen"`
}

// Timeout returns the per-request provider timeout as a duration.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ResponderConfig tunes the conversational responder.
type ResponderConfig struct {
	Enabled            bool     `yaml:"enabled"`
	RateLimitPerHour   int      `yaml:"rate_limit_per_hour"`
	MaxPerThread       int      `yaml:"max_per_thread"`
	HumanDelayMs       int      `yaml:"human_delay_ms"`
	AITimeoutMs        int      `yaml:"ai_timeout_ms"`
	ExcludedIntents    []string `yaml:"excluded_intents"`
	RequireHumanReview bool     `yaml:"require_human_review"`
	VideoLeadScoreMin  float64  `yaml:"video_lead_score_min"`
}

// HumanDelay returns the artificial pre-send delay.
func (c ResponderConfig) HumanDelay() time.Duration {
	return time.Duration(c.HumanDelayMs) * time.Millisecond
}

// AITimeout returns the per-generation deadline.
func (c ResponderConfig) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutMs) * time.Millisecond
}

// ShutdownConfig bounds the graceful-shutdown phases.
type ShutdownConfig struct {
	DrainMs      int `yaml:"drain_ms"`
	WorkerStopMs int `yaml:"worker_stop_ms"`
}

// Drain returns the orphaned-queue drain budget.
func (c ShutdownConfig) Drain() time.Duration {
	return time.Duration(c.DrainMs) * time.Millisecond
}

// WorkerStop returns the worker-pool stop budget.
func (c ShutdownConfig) WorkerStop() time.Duration {
	return time.Duration(c.WorkerStopMs) * time.Millisecond
}

// SecretsConfig selects the secret store backend.
type SecretsConfig struct {
	Store string `yaml:"store"` // "env" | "file" | "vault"
	File  string `yaml:"file"`
	Vault struct {
		Address string `yaml:"address"`
		Path    string `yaml:"path"`
	} `yaml:"vault"`
}

// AIConfig holds the Bedrock text-generation settings.
type AIConfig struct {
	ModelID   string `yaml:"model_id"`
	Region    string `yaml:"region"`
	MaxTokens int    `yaml:"max_tokens"`
	Enabled   bool   `yaml:"enabled"`
}

// ImportConfig holds contact-import settings.
type ImportConfig struct {
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	AWSProfile string `yaml:"aws_profile"`
	BatchSize  int    `yaml:"batch_size"`
}

// EnrichmentConfig holds the enrichment provider and cache settings.
type EnrichmentConfig struct {
	BaseURL      string `yaml:"base_url"`
	CacheTTLDays int    `yaml:"cache_ttl_days"`
}

// CacheTTL returns the enrichment-cache time to live.
func (c EnrichmentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

// CRMConfig holds the HubSpot sync settings. The OAuth client secret is
// resolved through the secret store, never inline.
type CRMConfig struct {
	BaseURL         string `yaml:"base_url"`
	TokenURL        string `yaml:"token_url"`
	ClientID        string `yaml:"client_id"`
	BatchSize       int    `yaml:"batch_size"`
	ContinueOnError bool   `yaml:"continue_on_error"`
}

// QualityConfig tunes the pre-send quality gate.
type QualityConfig struct {
	AllowThreshold float64 `yaml:"allow_threshold"`
	BlockThreshold float64 `yaml:"block_threshold"`
	MXCacheTTLSec  int     `yaml:"mx_cache_ttl_sec"`
}

// MXCacheTTL returns how long MX lookups are cached.
func (c QualityConfig) MXCacheTTL() time.Duration {
	return time.Duration(c.MXCacheTTLSec) * time.Second
}

// OutreachConfig holds the sender identity and the sales knowledge the
// responder draws on.
type OutreachConfig struct {
	FromEmail string          `yaml:"from_email"`
	FromName  string          `yaml:"from_name"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
}

// KnowledgeConfig is the sales collateral bundle fed to the generator.
type KnowledgeConfig struct {
	SenderName    string            `yaml:"sender_name"`
	SenderTitle   string            `yaml:"sender_title"`
	CompanyName   string            `yaml:"company_name"`
	ProductPitch  string            `yaml:"product_pitch"`
	MeetingLink   string            `yaml:"meeting_link"`
	SignatureLine string            `yaml:"signature_line"`
	BattleCards   map[string]string `yaml:"battle_cards"`
	CaseStudies   []string          `yaml:"case_studies"`
}

// Load reads and parses the configuration file, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 30
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 50
	}
	if cfg.Queue.StaleLeaseSec == 0 {
		cfg.Queue.StaleLeaseSec = 300
	}
	if cfg.Queue.NumWorkers == 0 {
		cfg.Queue.NumWorkers = 4
	}
	if cfg.Orphaned.MaxSize == 0 {
		cfg.Orphaned.MaxSize = 10000
	}
	if cfg.Orphaned.BatchSize == 0 {
		cfg.Orphaned.BatchSize = 50
	}
	if cfg.Orphaned.MaxAttempts == 0 {
		cfg.Orphaned.MaxAttempts = 6
	}
	if len(cfg.Orphaned.RetryDelaysSec) == 0 {
		cfg.Orphaned.RetryDelaysSec = []int{5, 15, 60, 300, 900, 3600}
	}
	if cfg.Provider.TimeoutMs == 0 {
		cfg.Provider.TimeoutMs = 30000
	}
	if cfg.Provider.Breaker.ErrorThresholdPct == 0 {
		cfg.Provider.Breaker.ErrorThresholdPct = 50
	}
	if cfg.Provider.Breaker.ResetMs == 0 {
		cfg.Provider.Breaker.ResetMs = 30000
	}
	if cfg.Provider.Breaker.WindowMs == 0 {
		cfg.Provider.Breaker.WindowMs = 10000
	}
	if cfg.Provider.Breaker.MinVolume == 0 {
		cfg.Provider.Breaker.MinVolume = 10
	}
	if cfg.Provider.RateLimit.PerMinute == 0 {
		cfg.Provider.RateLimit.PerMinute = 300
	}
	if cfg.Provider.Email.Provider == "" {
		cfg.Provider.Email.Provider = "primary"
	}
	if cfg.Provider.LinkedIn.Provider == "" {
		cfg.Provider.LinkedIn.Provider = "primary"
	}
	if cfg.Provider.LinkedIn.DailyLimit == 0 {
		cfg.Provider.LinkedIn.DailyLimit = 100
	}
	if cfg.Provider.Lemlist.BaseURL == "" {
		cfg.Provider.Lemlist.BaseURL = "https://api.lemlist.com/api"
	}
	if cfg.Provider.Postmark.BaseURL == "" {
		cfg.Provider.Postmark.BaseURL = "https://api.postmarkapp.com"
	}
	if cfg.Provider.PhantomBuster.BaseURL == "" {
		cfg.Provider.PhantomBuster.BaseURL = "https://api.phantombuster.com/api/v2"
	}
	if cfg.Provider.HeyGen.BaseURL == "" {
		cfg.Provider.HeyGen.BaseURL = "https://api.heygen.com/v2"
	}
	if cfg.Responder.RateLimitPerHour == 0 {
		cfg.Responder.RateLimitPerHour = 5
	}
	if cfg.Responder.MaxPerThread == 0 {
		cfg.Responder.MaxPerThread = 5
	}
	if cfg.Responder.HumanDelayMs == 0 {
		cfg.Responder.HumanDelayMs = 30000
	}
	if cfg.Responder.AITimeoutMs == 0 {
		cfg.Responder.AITimeoutMs = 30000
	}
	if len(cfg.Responder.ExcludedIntents) == 0 {
		cfg.Responder.ExcludedIntents = []string{"out_of_office", "not_interested"}
	}
	if cfg.Responder.VideoLeadScoreMin == 0 {
		cfg.Responder.VideoLeadScoreMin = 0.7
	}
	if cfg.Shutdown.DrainMs == 0 {
		cfg.Shutdown.DrainMs = 30000
	}
	if cfg.Shutdown.WorkerStopMs == 0 {
		cfg.Shutdown.WorkerStopMs = 30000
	}
	if cfg.Secrets.Store == "" {
		cfg.Secrets.Store = "env"
	}
	if cfg.AI.ModelID == "" {
		cfg.AI.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.AI.Region == "" {
		cfg.AI.Region = "us-east-1"
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 1024
	}
	if cfg.Import.BatchSize == 0 {
		cfg.Import.BatchSize = 500
	}
	if cfg.Enrichment.BaseURL == "" {
		cfg.Enrichment.BaseURL = "https://api.explorium.ai/v1"
	}
	if cfg.Enrichment.CacheTTLDays == 0 {
		cfg.Enrichment.CacheTTLDays = 30
	}
	if cfg.CRM.BaseURL == "" {
		cfg.CRM.BaseURL = "https://api.hubapi.com"
	}
	if cfg.CRM.TokenURL == "" {
		cfg.CRM.TokenURL = "https://api.hubapi.com/oauth/v1/token"
	}
	if cfg.CRM.BatchSize == 0 {
		cfg.CRM.BatchSize = 100
	}
	if cfg.Quality.AllowThreshold == 0 {
		cfg.Quality.AllowThreshold = 70
	}
	if cfg.Quality.BlockThreshold == 0 {
		cfg.Quality.BlockThreshold = 50
	}
	if cfg.Quality.MXCacheTTLSec == 0 {
		cfg.Quality.MXCacheTTLSec = 300
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		// Env-only deployments run without a config file.
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("QUEUE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.BatchSize = n
		}
	}
	if v := os.Getenv("QUEUE_STALE_LEASE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.StaleLeaseSec = n
		}
	}
	if v := os.Getenv("ORPHANED_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orphaned.MaxSize = n
		}
	}
	if v := os.Getenv("ORPHANED_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orphaned.BatchSize = n
		}
	}
	if v := os.Getenv("ORPHANED_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orphaned.MaxAttempts = n
		}
	}
	if v := os.Getenv("PROVIDER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.TimeoutMs = n
		}
	}
	if v := os.Getenv("PROVIDER_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.RateLimit.PerMinute = n
		}
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Provider.Email.Provider = v
	}
	if v := os.Getenv("LINKEDIN_PROVIDER"); v != "" {
		cfg.Provider.LinkedIn.Provider = v
	}
	if v := os.Getenv("RESPONDER_RATE_LIMIT_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Responder.RateLimitPerHour = n
		}
	}
	if v := os.Getenv("RESPONDER_MAX_PER_THREAD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Responder.MaxPerThread = n
		}
	}
	if v := os.Getenv("SHUTDOWN_DRAIN_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shutdown.DrainMs = n
		}
	}
	if v := os.Getenv("SECRETS_STORE"); v != "" {
		cfg.Secrets.Store = v
	}
	if v := os.Getenv("AI_MODEL_ID"); v != "" {
		cfg.AI.ModelID = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AI.Region = v
	}
	if v := os.Getenv("IMPORT_S3_BUCKET"); v != "" {
		cfg.Import.S3Bucket = v
	}
	if v := os.Getenv("CRM_CLIENT_ID"); v != "" {
		cfg.CRM.ClientID = v
	}
	if v := os.Getenv("OUTREACH_FROM_EMAIL"); v != "" {
		cfg.Outreach.FromEmail = v
	}
	if v := os.Getenv("OUTREACH_FROM_NAME"); v != "" {
		cfg.Outreach.FromName = v
	}

	return cfg, nil
}
