// Package config provides configuration loading for knowd.
//
// Configuration is assembled from defaults, an optional YAML file and
// KNOWD_* environment variables. Sections are flat (section.field_name) so
// every field can be addressed from the environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete knowd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Ranking       RankingConfig       `koanf:"ranking"`
	Cache         CacheConfig         `koanf:"cache"`
	Effectiveness EffectivenessConfig `koanf:"effectiveness"`
	Persistence   PersistenceConfig   `koanf:"persistence"`
	FeedbackBus   FeedbackBusConfig   `koanf:"feedback_bus"`
	Logging       LoggingConfig       `koanf:"logging"`
	Telemetry     TelemetryConfig     `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EmbeddingsConfig selects and bounds the embedding provider.
type EmbeddingsConfig struct {
	Provider      string   `koanf:"provider"` // hash, openai, tei, fastembed
	Model         string   `koanf:"model"`
	BaseURL       string   `koanf:"base_url"`
	APIKey        Secret   `koanf:"api_key"`
	CacheDir      string   `koanf:"cache_dir"`
	Dimension     int      `koanf:"dimension"`
	Timeout       Duration `koanf:"timeout"`
	RatePerSecond float64  `koanf:"rate_per_second"`
	Burst         int      `koanf:"burst"`
	MaxConcurrent int      `koanf:"max_concurrent"`
	MaxQueue      int      `koanf:"max_queue"`
	MaxRetries    int      `koanf:"max_retries"`
	BaseBackoff   Duration `koanf:"base_backoff"`
}

// RetrievalConfig controls per-tier search and result shaping.
type RetrievalConfig struct {
	TenantLimit      int      `koanf:"tenant_limit"`
	DomainLimit      int      `koanf:"domain_limit"`
	GlobalLimit      int      `koanf:"global_limit"`
	TenantFloor      float64  `koanf:"tenant_floor"`
	DomainFloor      float64  `koanf:"domain_floor"`
	GlobalFloor      float64  `koanf:"global_floor"`
	MaxResults       int      `koanf:"max_results"`
	ContextDocuments int      `koanf:"context_documents"`
	MaxContextChars  int      `koanf:"max_context_chars"`
	QueryTimeout     Duration `koanf:"query_timeout"`
	Domains          []string `koanf:"domains"`
	RecordUsage      *bool    `koanf:"record_usage"`
}

// RankingConfig holds the scoring weights. A nil weight keeps its default;
// an explicit 0 switches the term off.
type RankingConfig struct {
	SimilarityWeight    *float64 `koanf:"similarity_weight"`
	TenantBonus         *float64 `koanf:"tenant_bonus"`
	DomainBonus         *float64 `koanf:"domain_bonus"`
	GlobalBonus         *float64 `koanf:"global_bonus"`
	EffectivenessWeight *float64 `koanf:"effectiveness_weight"`
	CriticalBonus       *float64 `koanf:"critical_bonus"`
	HighBonus           *float64 `koanf:"high_bonus"`
	MediumBonus         *float64 `koanf:"medium_bonus"`
	RecencyWeight       *float64 `koanf:"recency_weight"`
	RecencyWindow       Duration `koanf:"recency_window"`
	SegmentWeight       *float64 `koanf:"segment_weight"`
	SeasonWeight        *float64 `koanf:"season_weight"`
	LocationWeight      *float64 `koanf:"location_weight"`
	UrgencyWeight       *float64 `koanf:"urgency_weight"`
	StageWeight         *float64 `koanf:"stage_weight"`
}

func (r RankingConfig) weights() map[string]*float64 {
	return map[string]*float64{
		"similarity_weight":    r.SimilarityWeight,
		"tenant_bonus":         r.TenantBonus,
		"domain_bonus":         r.DomainBonus,
		"global_bonus":         r.GlobalBonus,
		"effectiveness_weight": r.EffectivenessWeight,
		"critical_bonus":       r.CriticalBonus,
		"high_bonus":           r.HighBonus,
		"medium_bonus":         r.MediumBonus,
		"recency_weight":       r.RecencyWeight,
		"segment_weight":       r.SegmentWeight,
		"season_weight":        r.SeasonWeight,
		"location_weight":      r.LocationWeight,
		"urgency_weight":       r.UrgencyWeight,
		"stage_weight":         r.StageWeight,
	}
}

// CacheConfig holds query cache configuration.
type CacheConfig struct {
	Backend       string   `koanf:"backend"` // memory, redis
	TTL           Duration `koanf:"ttl"`
	MaxEntries    int      `koanf:"max_entries"`
	SweepInterval Duration `koanf:"sweep_interval"`
	RedisAddr     string   `koanf:"redis_addr"`
	RedisPassword Secret   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	RedisPrefix   string   `koanf:"redis_prefix"`
}

// EffectivenessConfig holds the feedback constants and worker pool size.
type EffectivenessConfig struct {
	HelpfulDelta    float64 `koanf:"helpful_delta"`
	NotHelpfulDelta float64 `koanf:"not_helpful_delta"`
	UsageAlpha      float64 `koanf:"usage_alpha"`
	Workers         int     `koanf:"workers"`
	QueueSize       int     `koanf:"queue_size"`
}

// PersistenceConfig selects the snapshot backend.
type PersistenceConfig struct {
	Backend           string   `koanf:"backend"` // file, sqlite, s3, none
	Dir               string   `koanf:"dir"`
	Compress          *bool    `koanf:"compress"`
	Debounce          Duration `koanf:"debounce"`
	RetryInterval     Duration `koanf:"retry_interval"`
	Seed              *bool    `koanf:"seed"`
	SQLitePath        string   `koanf:"sqlite_path"`
	S3Bucket          string   `koanf:"s3_bucket"`
	S3Prefix          string   `koanf:"s3_prefix"`
	S3Region          string   `koanf:"s3_region"`
	S3Endpoint        string   `koanf:"s3_endpoint"`
	S3AccessKeyID     string   `koanf:"s3_access_key_id"`
	S3SecretAccessKey Secret   `koanf:"s3_secret_access_key"`
	S3UsePathStyle    bool     `koanf:"s3_use_path_style"`
}

// FeedbackBusConfig configures the NATS feedback subscriber.
type FeedbackBusConfig struct {
	Enabled         bool   `koanf:"enabled"`
	URL             string `koanf:"url"`
	FeedbackSubject string `koanf:"feedback_subject"`
	UsageSubject    string `koanf:"usage_subject"`
	QueueGroup      string `koanf:"queue_group"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"` // grpc, http/protobuf
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	Insecure       bool    `koanf:"insecure"`
	SampleRate     float64 `koanf:"sample_rate"`
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}

	switch c.Embeddings.Provider {
	case "hash", "openai", "tei", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider %q not supported (hash, openai, tei, fastembed)", c.Embeddings.Provider))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, errors.New("embeddings.dimension must be positive"))
	}
	if c.Embeddings.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("embeddings.max_concurrent must be positive"))
	}

	r := c.Retrieval
	for name, floor := range map[string]float64{
		"tenant_floor": r.TenantFloor,
		"domain_floor": r.DomainFloor,
		"global_floor": r.GlobalFloor,
	} {
		if floor < -1 || floor > 1 {
			errs = append(errs, fmt.Errorf("retrieval.%s must be within [-1,1], got %v", name, floor))
		}
	}
	if r.ContextDocuments > r.MaxResults {
		errs = append(errs, fmt.Errorf("retrieval.context_documents (%d) exceeds retrieval.max_results (%d)", r.ContextDocuments, r.MaxResults))
	}

	for name, w := range c.Ranking.weights() {
		if w != nil && *w < 0 {
			errs = append(errs, fmt.Errorf("ranking.%s must not be negative, got %v", name, *w))
		}
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q not supported (memory, redis)", c.Cache.Backend))
	}

	e := c.Effectiveness
	if e.UsageAlpha <= 0 || e.UsageAlpha > 1 {
		errs = append(errs, fmt.Errorf("effectiveness.usage_alpha must be within (0,1], got %v", e.UsageAlpha))
	}

	switch c.Persistence.Backend {
	case "file", "none":
	case "sqlite":
		if c.Persistence.SQLitePath == "" {
			errs = append(errs, errors.New("persistence.sqlite_path is required for the sqlite backend"))
		}
	case "s3":
		if c.Persistence.S3Bucket == "" {
			errs = append(errs, errors.New("persistence.s3_bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("persistence.backend %q not supported (file, sqlite, s3, none)", c.Persistence.Backend))
	}

	if c.FeedbackBus.Enabled && c.FeedbackBus.URL == "" {
		errs = append(errs, errors.New("feedback_bus.url is required when the feedback bus is enabled"))
	}

	return errors.Join(errs...)
}

// RecordUsageEnabled reports whether query usage should feed the tracker.
func (c *RetrievalConfig) RecordUsageEnabled() bool {
	return c.RecordUsage == nil || *c.RecordUsage
}

// CompressEnabled reports whether file snapshots are gzip-compressed.
func (c *PersistenceConfig) CompressEnabled() bool {
	return c.Compress == nil || *c.Compress
}

// SeedEnabled reports whether missing snapshots are seeded with sample content.
func (c *PersistenceConfig) SeedEnabled() bool {
	return c.Seed == nil || *c.Seed
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	em := &cfg.Embeddings
	if em.Provider == "" {
		em.Provider = "hash"
	}
	if em.Dimension == 0 {
		em.Dimension = 1536
	}
	if em.Timeout == 0 {
		em.Timeout = Duration(3 * time.Second)
	}
	if em.RatePerSecond == 0 {
		em.RatePerSecond = 10
	}
	if em.Burst == 0 {
		em.Burst = 10
	}
	if em.MaxConcurrent == 0 {
		em.MaxConcurrent = 4
	}
	if em.MaxQueue == 0 {
		em.MaxQueue = 64
	}
	if em.MaxRetries == 0 {
		em.MaxRetries = 2
	}
	if em.BaseBackoff == 0 {
		em.BaseBackoff = Duration(100 * time.Millisecond)
	}
	switch em.Provider {
	case "openai":
		if em.Model == "" {
			em.Model = "text-embedding-ada-002"
		}
	case "tei":
		if em.BaseURL == "" {
			em.BaseURL = "http://localhost:8080/v1"
		}
		if em.Model == "" {
			em.Model = "BAAI/bge-small-en-v1.5"
		}
	}

	r := &cfg.Retrieval
	if r.TenantLimit == 0 {
		r.TenantLimit = 5
	}
	if r.DomainLimit == 0 {
		r.DomainLimit = 3
	}
	if r.GlobalLimit == 0 {
		r.GlobalLimit = 2
	}
	if r.TenantFloor == 0 {
		r.TenantFloor = 0.2
	}
	if r.DomainFloor == 0 {
		r.DomainFloor = 0.3
	}
	if r.GlobalFloor == 0 {
		r.GlobalFloor = 0.35
	}
	if r.MaxResults == 0 {
		r.MaxResults = 10
	}
	if r.ContextDocuments == 0 {
		r.ContextDocuments = 5
	}
	if r.MaxContextChars == 0 {
		r.MaxContextChars = 2000
	}
	if r.QueryTimeout == 0 {
		r.QueryTimeout = Duration(5 * time.Second)
	}
	if len(r.Domains) == 0 {
		r.Domains = []string{"insurance", "resort", "pension"}
	}

	c := &cfg.Cache
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.TTL == 0 {
		c.TTL = Duration(5 * time.Minute)
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 10000
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(time.Minute)
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = "knowd:qc:"
	}

	e := &cfg.Effectiveness
	if e.HelpfulDelta == 0 {
		e.HelpfulDelta = 0.1
	}
	if e.NotHelpfulDelta == 0 {
		e.NotHelpfulDelta = -0.05
	}
	if e.UsageAlpha == 0 {
		e.UsageAlpha = 0.2
	}
	if e.Workers == 0 {
		e.Workers = 8
	}
	if e.QueueSize == 0 {
		e.QueueSize = 1024
	}

	p := &cfg.Persistence
	if p.Backend == "" {
		p.Backend = "file"
	}
	if p.Dir == "" {
		p.Dir = "~/.local/share/knowd"
	}
	if p.Debounce == 0 {
		p.Debounce = Duration(2 * time.Second)
	}
	if p.RetryInterval == 0 {
		p.RetryInterval = Duration(30 * time.Second)
	}
	if p.Backend == "sqlite" && p.SQLitePath == "" {
		p.SQLitePath = p.Dir + "/knowd.db"
	}
	if p.S3Prefix == "" {
		p.S3Prefix = "knowd/snapshots"
	}

	f := &cfg.FeedbackBus
	if f.URL == "" {
		f.URL = "nats://127.0.0.1:4222"
	}
	if f.FeedbackSubject == "" {
		f.FeedbackSubject = "knowd.feedback"
	}
	if f.UsageSubject == "" {
		f.UsageSubject = "knowd.usage"
	}
	if f.QueueGroup == "" {
		f.QueueGroup = "knowd"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	t := &cfg.Telemetry
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.Protocol == "" {
		t.Protocol = "grpc"
	}
	if t.ServiceName == "" {
		t.ServiceName = "knowd"
	}
	if t.ServiceVersion == "" {
		t.ServiceVersion = "0.1.0"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1.0
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}
