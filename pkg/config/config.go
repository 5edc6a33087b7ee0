package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source names used as keys of Config.Sources and Config.Freshness.Sources.
const (
	SourceRegulatory = "regulatory"
	SourceFilings    = "filings"
	SourceEarnings   = "earnings"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		RateLimit       struct {
			Enabled      bool    `yaml:"enabled"`
			Capacity     float64 `yaml:"capacity"`
			RefillPerSec float64 `yaml:"refill_per_sec"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic"`
			Interval  time.Duration `yaml:"interval"`
			Threshold int           `yaml:"threshold"`
			MinLevel  string        `yaml:"min_level"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Database struct {
		Path         string        `yaml:"path"`
		BusyTimeout  time.Duration `yaml:"busy_timeout"`
		MaxOpenConns int           `yaml:"max_open_conns"`
	} `yaml:"database"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		ChangeTopic  string   `yaml:"change_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string `yaml:"group_id"`
			Workers     int    `yaml:"workers"`
			BufferSize  int    `yaml:"buffer_size"`
			MinBytes    int    `yaml:"min_bytes"`
			MaxBytes    int    `yaml:"max_bytes"`
			StartLatest bool   `yaml:"start_latest"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		Compress         bool          `yaml:"compress"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		CandleTable      string        `yaml:"candle_table"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`
	Cache struct {
		Prefix        string        `yaml:"prefix"`
		MemoryMaxSize int           `yaml:"memory_max_size"`
		L1TTL         time.Duration `yaml:"l1_ttl"`
	} `yaml:"cache"`
	Queue struct {
		Enabled    bool   `yaml:"enabled"`
		Name       string `yaml:"name"`
		Workers    int    `yaml:"workers"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"queue"`
	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		Factor      float64       `yaml:"factor"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`
	Sources   map[string]SourceConfig `yaml:"sources"`
	Embedding struct {
		Provider          string        `yaml:"provider"` // auto, deterministic, openai
		Credential        string        `yaml:"credential"`
		Model             string        `yaml:"model"`
		Dimensions        int           `yaml:"dimensions"`
		BatchSize         int           `yaml:"batch_size"`
		ProviderBatchSize int           `yaml:"provider_batch_size"`
		MaxBatches        int           `yaml:"max_batches"`
		CacheTTL          time.Duration `yaml:"cache_ttl"`
		LockTTL           time.Duration `yaml:"lock_ttl"`
	} `yaml:"embedding"`
	Predictor struct {
		CacheTTL       time.Duration `yaml:"cache_ttl"`
		CandidateLimit int           `yaml:"candidate_limit"`
		TopK           int           `yaml:"top_k"`
		CandleLookback int           `yaml:"candle_lookback"`
		MacroRate      float64       `yaml:"macro_rate"`
		// SignalsURL points at an optional analytics service supplying
		// sentiment and option flow. Empty disables the provider.
		SignalsURL     string        `yaml:"signals_url"`
		SignalsTimeout time.Duration `yaml:"signals_timeout"`
	} `yaml:"predictor"`
	Freshness struct {
		KeyExpiryWindow time.Duration              `yaml:"key_expiry_window"`
		Sources         map[string]FreshnessSource `yaml:"sources"`
	} `yaml:"freshness"`
	Schedule struct {
		Enabled   bool   `yaml:"enabled"`
		Backfill  string `yaml:"backfill"`
		Freshness string `yaml:"freshness"`
	} `yaml:"schedule"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Seed        struct {
		EntityMappings []EntityMappingSeed `yaml:"entity_mappings"`
		StockProfiles  []StockProfileSeed  `yaml:"stock_profiles"`
	} `yaml:"seed"`
}

// SourceConfig configures one source adapter.
type SourceConfig struct {
	Enabled             bool          `yaml:"enabled"`
	BaseURL             string        `yaml:"base_url"`
	Credential          string        `yaml:"credential"`
	Schedule            string        `yaml:"schedule"`
	WindowDays          int           `yaml:"window_days"`
	FallbackDays        int           `yaml:"fallback_days"`
	RecordCap           int           `yaml:"record_cap"`
	PageSize            int           `yaml:"page_size"`
	DetailCap           int           `yaml:"detail_cap"`
	CallDelay           time.Duration `yaml:"call_delay"`
	RateLimitWait       time.Duration `yaml:"rate_limit_wait"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`
	Timeout             time.Duration `yaml:"timeout"`
	UserAgent           string        `yaml:"user_agent"`
	Forms               []string      `yaml:"forms"`
}

// FreshnessSource sets the staleness policy of one tracked source.
type FreshnessSource struct {
	Basis       string        `yaml:"basis"` // event_date or created_at
	ExpectedLag time.Duration `yaml:"expected_lag"`
	WarnAfter   time.Duration `yaml:"warn_after"`
}

type CredentialConfig struct {
	Service    string        `yaml:"service"`
	APIKey     string        `yaml:"api_key"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
	ExpiresAt  string        `yaml:"expires_at"`
}

type EntityMappingSeed struct {
	RawName        string   `yaml:"raw_name"`
	Aliases        []string `yaml:"aliases"`
	PrimaryTicker  string   `yaml:"primary_ticker"`
	RelatedTickers []string `yaml:"related_tickers"`
	Category       string   `yaml:"category"`
	Issuer         string   `yaml:"issuer"`
}

type StockProfileSeed struct {
	Ticker          string  `yaml:"ticker"`
	Name            string  `yaml:"name"`
	Sector          string  `yaml:"sector"`
	MarketCap       float64 `yaml:"market_cap"`
	DebtToEquity    float64 `yaml:"debt_to_equity"`
	PreMarketVolume float64 `yaml:"pre_market_volume"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_CHANGE_TOPIC"); v != "" {
		c.Kafka.ChangeTopic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SIGNALS_URL"); v != "" {
		c.Predictor.SignalsURL = v
	}
	for i := range c.Credentials {
		if env := c.Credentials[i].APIKeyEnv; env != "" {
			if v := os.Getenv(env); v != "" {
				c.Credentials[i].APIKey = v
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.CORSOrigins == nil {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/catalysts.db"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}
	if c.Kafka.ChangeTopic == "" {
		c.Kafka.ChangeTopic = "catalyst.changes"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "catalystpull-realtime"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "catalystpull"
	}
	if c.Cache.MemoryMaxSize == 0 {
		c.Cache.MemoryMaxSize = 10000
	}
	if c.Cache.L1TTL == 0 {
		c.Cache.L1TTL = time.Minute
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "embeddings"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 1
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.Factor == 0 {
		c.Retry.Factor = 2
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Sources == nil {
		c.Sources = map[string]SourceConfig{}
	}
	for name, def := range defaultSources() {
		c.Sources[name] = mergeSource(c.Sources[name], def)
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "auto"
	}
	if c.Embedding.Credential == "" {
		c.Embedding.Credential = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 100
	}
	if c.Embedding.ProviderBatchSize == 0 {
		c.Embedding.ProviderBatchSize = 50
	}
	if c.Embedding.MaxBatches == 0 {
		c.Embedding.MaxBatches = 200
	}
	if c.Embedding.CacheTTL == 0 {
		c.Embedding.CacheTTL = 24 * time.Hour
	}
	if c.Embedding.LockTTL == 0 {
		c.Embedding.LockTTL = 10 * time.Minute
	}
	if c.Predictor.CacheTTL == 0 {
		c.Predictor.CacheTTL = time.Hour
	}
	if c.Predictor.CandidateLimit == 0 {
		c.Predictor.CandidateLimit = 50
	}
	if c.Predictor.TopK == 0 {
		c.Predictor.TopK = 3
	}
	if c.Predictor.CandleLookback == 0 {
		c.Predictor.CandleLookback = 30 * 390
	}
	if c.Predictor.MacroRate == 0 {
		c.Predictor.MacroRate = 0.1
	}
	if c.Predictor.SignalsTimeout == 0 {
		c.Predictor.SignalsTimeout = 3 * time.Second
	}
	if c.Freshness.KeyExpiryWindow == 0 {
		c.Freshness.KeyExpiryWindow = 30 * 24 * time.Hour
	}
	if c.Freshness.Sources == nil {
		c.Freshness.Sources = map[string]FreshnessSource{}
	}
	for name, def := range defaultFreshness() {
		if _, ok := c.Freshness.Sources[name]; !ok {
			c.Freshness.Sources[name] = def
		}
	}
	if c.Schedule.Backfill == "" {
		c.Schedule.Backfill = "*/15 * * * *"
	}
	if c.Schedule.Freshness == "" {
		c.Schedule.Freshness = "0 * * * *"
	}
}

func defaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		SourceRegulatory: {
			BaseURL:       "https://api.fda.gov",
			Credential:    "fda",
			Schedule:      "0 */6 * * *",
			WindowDays:    30,
			FallbackDays:  90,
			RecordCap:     100,
			PageSize:      100,
			CallDelay:     250 * time.Millisecond,
			RateLimitWait: 60 * time.Second,
		},
		SourceFilings: {
			BaseURL:       "https://api.sec-api.io",
			Credential:    "sec_api",
			Schedule:      "*/30 * * * *",
			WindowDays:    1,
			FallbackDays:  7,
			RecordCap:     50,
			PageSize:      50,
			CallDelay:     100 * time.Millisecond,
			RateLimitWait: 30 * time.Second,
			Forms:         []string{"8-K", "10-K", "10-Q", "S-1", "S-3", "S-8", "DEF 14A"},
		},
		SourceEarnings: {
			BaseURL:       "https://api.polygon.io",
			Credential:    "polygon",
			Schedule:      "0 6 * * *",
			WindowDays:    30,
			FallbackDays:  90,
			RecordCap:     100,
			PageSize:      100,
			DetailCap:     20,
			CallDelay:     100 * time.Millisecond,
			RateLimitWait: 60 * time.Second,
		},
	}
}

func mergeSource(c, def SourceConfig) SourceConfig {
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.Credential == "" {
		c.Credential = def.Credential
	}
	if c.Schedule == "" {
		c.Schedule = def.Schedule
	}
	if c.WindowDays == 0 {
		c.WindowDays = def.WindowDays
	}
	if c.FallbackDays == 0 {
		c.FallbackDays = def.FallbackDays
	}
	if c.RecordCap == 0 {
		c.RecordCap = def.RecordCap
	}
	if c.PageSize == 0 {
		c.PageSize = def.PageSize
	}
	if c.DetailCap == 0 {
		c.DetailCap = def.DetailCap
	}
	if c.CallDelay == 0 {
		c.CallDelay = def.CallDelay
	}
	if c.RateLimitWait == 0 {
		c.RateLimitWait = def.RateLimitWait
	}
	if c.MaxRateLimitRetries == 0 {
		c.MaxRateLimitRetries = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if len(c.Forms) == 0 {
		c.Forms = def.Forms
	}
	return c
}

func defaultFreshness() map[string]FreshnessSource {
	return map[string]FreshnessSource{
		SourceRegulatory: {Basis: "event_date", ExpectedLag: 90 * 24 * time.Hour, WarnAfter: 180 * 24 * time.Hour},
		SourceFilings:    {Basis: "event_date", WarnAfter: 24 * time.Hour},
		SourceEarnings:   {Basis: "created_at", WarnAfter: 24 * time.Hour},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Retry.MaxAttempts < 3 || c.Retry.MaxAttempts > 5 {
		return fmt.Errorf("retry.max_attempts must be between 3 and 5, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be >= 1")
	}
	for name, s := range c.Sources {
		if s.RecordCap < 20 || s.RecordCap > 100 {
			return fmt.Errorf("sources.%s.record_cap must be between 20 and 100, got %d", name, s.RecordCap)
		}
		if s.FallbackDays < s.WindowDays {
			return fmt.Errorf("sources.%s.fallback_days must be >= window_days", name)
		}
	}
	if c.Embedding.Dimensions != 384 {
		return fmt.Errorf("embedding.dimensions must be 384, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize > 100 || c.Embedding.ProviderBatchSize > 50 {
		return fmt.Errorf("embedding batch sizes are capped at 100 (deterministic) and 50 (provider)")
	}
	switch c.Embedding.Provider {
	case "auto", "deterministic", "openai":
	default:
		return fmt.Errorf("embedding.provider must be auto, deterministic or openai, got '%s'", c.Embedding.Provider)
	}
	for name, f := range c.Freshness.Sources {
		if f.Basis != "event_date" && f.Basis != "created_at" {
			return fmt.Errorf("freshness.sources.%s.basis must be event_date or created_at", name)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// Redacted returns a copy with secrets masked, safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Redis.Password = mask(c.Redis.Password)
	out.ClickHouse.Password = mask(c.ClickHouse.Password)
	out.Credentials = make([]CredentialConfig, len(c.Credentials))
	for i, cr := range c.Credentials {
		cr.APIKey = mask(cr.APIKey)
		out.Credentials[i] = cr
	}
	return &out
}
