package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxUploadBatchSize is the largest number of identifiers the remote API accepts per upload call.
const MaxUploadBatchSize = 10000

// Config aggregates everything the service reads from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	Meta      MetaConfig
	Audience  AudienceConfig
	Lookalike LookalikeConfig
	Upload    UploadConfig
	Insights  InsightsConfig
	Store     StoreConfig
	Schedule  ScheduleConfig
}

// MetaConfig covers the Ads API credential and account.
type MetaConfig struct {
	BaseURL     string
	APIVersion  string
	AccessToken string
	AdAccountID string
	Timeout     time.Duration
}

// AudienceConfig names the custom audience kept in sync.
type AudienceConfig struct {
	Name        string
	Description string
	PhonesFile  string
}

// LookalikeConfig describes the audience derived from the custom audience.
type LookalikeConfig struct {
	Name    string
	Country string
	Ratio   float64
}

// UploadConfig tunes the batch uploader.
type UploadConfig struct {
	BatchSize   int
	Pacing      time.Duration
	MaxRetries  int
	HashWorkers int
}

// InsightsConfig sets defaults for metric collection.
type InsightsConfig struct {
	Level      string
	Fields     []string
	DatePreset string
	MetricsTTL time.Duration
}

// StoreConfig selects and configures the KV backend.
type StoreConfig struct {
	Backend        string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string
	PurgeInterval  time.Duration
}

// ScheduleConfig drives the recurring trigger.
type ScheduleConfig struct {
	Enabled         bool
	SyncInterval    time.Duration
	MetricsInterval time.Duration
	RunLockTTL      time.Duration
}

// MetaConfigured reports whether enough credentials exist to call the Ads API.
func (c Config) MetaConfigured() bool {
	return strings.TrimSpace(c.Meta.AccessToken) != "" && strings.TrimSpace(c.Meta.AdAccountID) != ""
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("http_base_path", "")
	v.SetDefault("metrics_namespace", "audience_sync")

	v.SetDefault("meta_base_url", "https://graph.facebook.com")
	v.SetDefault("meta_api_version", "v19.0")
	v.SetDefault("meta_access_token", "")
	v.SetDefault("meta_ad_account_id", "")
	v.SetDefault("meta_timeout", "30s")

	v.SetDefault("audience_name", "Customers")
	v.SetDefault("audience_description", "Customer phone numbers synchronised from CRM")
	v.SetDefault("phones_file", "")

	v.SetDefault("lookalike_name", "Customers Lookalike")
	v.SetDefault("lookalike_country", "RU")
	v.SetDefault("lookalike_ratio", 0.01)

	v.SetDefault("upload_batch_size", MaxUploadBatchSize)
	v.SetDefault("upload_pacing", "1s")
	v.SetDefault("upload_max_retries", 0)
	v.SetDefault("hash_workers", runtime.GOMAXPROCS(0))

	v.SetDefault("insights_level", "campaign")
	v.SetDefault("insights_fields", "campaign_id,campaign_name,spend,impressions,clicks,ctr,cpc,cpm,actions")
	v.SetDefault("insights_date_preset", "last_7d")
	v.SetDefault("metrics_ttl", "0s")

	v.SetDefault("kv_backend", "redis")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_tls", false)
	v.SetDefault("database_url", "")
	v.SetDefault("database_schema", "public")
	v.SetDefault("kv_purge_interval", "1h")
	v.SetDefault("sqlite_path", "data/audience-sync.db")

	v.SetDefault("schedule_enabled", false)
	v.SetDefault("sync_interval", "24h")
	v.SetDefault("metrics_interval", "6h")
	v.SetDefault("run_lock_ttl", "30m")

	cfg := Config{
		AppEnv:           strings.TrimSpace(v.GetString("app_env")),
		LogLevel:         strings.TrimSpace(v.GetString("log_level")),
		LogFormat:        strings.TrimSpace(v.GetString("log_format")),
		HTTPListenAddr:   strings.TrimSpace(v.GetString("http_listen_addr")),
		PublicBasePath:   strings.TrimSpace(v.GetString("http_base_path")),
		MetricsNamespace: strings.TrimSpace(v.GetString("metrics_namespace")),
		Meta: MetaConfig{
			BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString("meta_base_url")), "/"),
			APIVersion:  strings.Trim(strings.TrimSpace(v.GetString("meta_api_version")), "/"),
			AccessToken: strings.TrimSpace(v.GetString("meta_access_token")),
			AdAccountID: normalizeAccountID(v.GetString("meta_ad_account_id")),
			Timeout:     v.GetDuration("meta_timeout"),
		},
		Audience: AudienceConfig{
			Name:        strings.TrimSpace(v.GetString("audience_name")),
			Description: strings.TrimSpace(v.GetString("audience_description")),
			PhonesFile:  strings.TrimSpace(v.GetString("phones_file")),
		},
		Lookalike: LookalikeConfig{
			Name:    strings.TrimSpace(v.GetString("lookalike_name")),
			Country: strings.ToUpper(strings.TrimSpace(v.GetString("lookalike_country"))),
			Ratio:   v.GetFloat64("lookalike_ratio"),
		},
		Upload: UploadConfig{
			BatchSize:   v.GetInt("upload_batch_size"),
			Pacing:      v.GetDuration("upload_pacing"),
			MaxRetries:  v.GetInt("upload_max_retries"),
			HashWorkers: v.GetInt("hash_workers"),
		},
		Insights: InsightsConfig{
			Level:      strings.TrimSpace(v.GetString("insights_level")),
			Fields:     splitCSV(v.GetString("insights_fields")),
			DatePreset: strings.TrimSpace(v.GetString("insights_date_preset")),
			MetricsTTL: v.GetDuration("metrics_ttl"),
		},
		Store: StoreConfig{
			Backend:        strings.ToLower(strings.TrimSpace(v.GetString("kv_backend"))),
			RedisAddr:      strings.TrimSpace(v.GetString("redis_addr")),
			RedisPassword:  v.GetString("redis_password"),
			RedisDB:        v.GetInt("redis_db"),
			RedisTLS:       v.GetBool("redis_tls"),
			DatabaseURL:    strings.TrimSpace(v.GetString("database_url")),
			DatabaseSchema: strings.TrimSpace(v.GetString("database_schema")),
			SQLitePath:     strings.TrimSpace(v.GetString("sqlite_path")),
			PurgeInterval:  v.GetDuration("kv_purge_interval"),
		},
		Schedule: ScheduleConfig{
			Enabled:         v.GetBool("schedule_enabled"),
			SyncInterval:    v.GetDuration("sync_interval"),
			MetricsInterval: v.GetDuration("metrics_interval"),
			RunLockTTL:      v.GetDuration("run_lock_ttl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Upload.BatchSize <= 0 || c.Upload.BatchSize > MaxUploadBatchSize {
		c.Upload.BatchSize = MaxUploadBatchSize
	}
	if c.Upload.Pacing < 0 {
		return fmt.Errorf("UPLOAD_PACING must not be negative")
	}
	if c.Upload.MaxRetries < 0 {
		return fmt.Errorf("UPLOAD_MAX_RETRIES must not be negative")
	}
	if c.Upload.HashWorkers <= 0 {
		c.Upload.HashWorkers = runtime.GOMAXPROCS(0)
	}
	if c.Meta.Timeout <= 0 {
		c.Meta.Timeout = 30 * time.Second
	}
	switch c.Store.Backend {
	case "redis", "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres kv backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for sqlite kv backend")
		}
	default:
		return fmt.Errorf("unsupported KV_BACKEND %q", c.Store.Backend)
	}
	if c.Schedule.Enabled {
		if c.Schedule.SyncInterval <= 0 || c.Schedule.MetricsInterval <= 0 {
			return fmt.Errorf("SYNC_INTERVAL and METRICS_INTERVAL must be positive when scheduling is enabled")
		}
	}
	if c.Schedule.RunLockTTL <= 0 {
		c.Schedule.RunLockTTL = 30 * time.Minute
	}
	return nil
}

// normalizeAccountID strips the act_ prefix so callers can add it consistently.
func normalizeAccountID(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "act_")
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
