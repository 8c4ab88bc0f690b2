// Package config defines the top-level configuration for the gift aggregator
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/giftagg/internal/crypto"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GIFTAGG_* environment variables.
type Config struct {
	Postgres    PostgresConfig          `toml:"postgres"`
	Redis       RedisConfig             `toml:"redis"`
	S3          S3Config                `toml:"s3"`
	Kafka       KafkaConfig             `toml:"kafka"`
	Server      ServerConfig            `toml:"server"`
	WS          WSConfig                `toml:"ws"`
	Sync        SyncConfig              `toml:"sync"`
	Sweep       SweepConfig             `toml:"sweep"`
	Archive     ArchiveConfig           `toml:"archive"`
	Notify      NotifyConfig            `toml:"notify"`
	FX          FXConfig                `toml:"fx"`
	Markets     map[string]MarketConfig `toml:"markets"`
	Collections []CollectionConfig      `toml:"collections"`
	Mode        string                  `toml:"mode"`
	LogLevel    string                  `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	JobTTL     duration `toml:"job_ttl"`
	KeyPrefix  string   `toml:"key_prefix"` // namespace for jobs, locks and rate limits
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`   // archive key prefix
	Compress       bool   `toml:"compress"` // gzip archive batches
}

// KafkaConfig holds the optional event stream sink parameters.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchTimeout duration `toml:"batch_timeout"`
	Buffer       int      `toml:"buffer"` // queued events before new ones are dropped
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	AdminAPIKey    string   `toml:"admin_api_key"`
	AdminReadKeys  []string `toml:"admin_read_keys"`  // job lookups and audit only
	AdminRateLimit int      `toml:"admin_rate_limit"` // requests per minute per client
}

// WSConfig holds subscription registry parameters.
type WSConfig struct {
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	StaleAfter        duration `toml:"stale_after"`
	SendBuffer        int      `toml:"send_buffer"`
}

// SyncConfig controls the listing sync loop and the admin job queue.
type SyncConfig struct {
	Interval     duration `toml:"interval"`
	OnStartup    bool     `toml:"on_startup"`
	BatchSize    int      `toml:"batch_size"`
	MaxListings  int      `toml:"max_listings"`
	QueueSize    int      `toml:"queue_size"`
	SalesEnabled bool     `toml:"sales_enabled"`
	SalesLimit   int      `toml:"sales_limit"`
}

// SweepConfig controls the stale-listing sweep.
type SweepConfig struct {
	TTL  duration `toml:"ttl"`
	Cron string   `toml:"cron"`
}

// ArchiveConfig controls archival of retired listings and sales to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// FXConfig holds currency conversion rates into TON.
type FXConfig struct {
	StarsToTon float64 `toml:"stars_to_ton"`
	UsdtToTon  float64 `toml:"usdt_to_ton"`
}

// MarketConfig holds per-adapter upstream settings, keyed by market slug.
type MarketConfig struct {
	Enabled    bool     `toml:"enabled"`
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	RateLimit  float64  `toml:"rate_limit"` // requests per second
	Timeout    duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`

	// InitData is the Telegram WebApp initData used by mrkt to obtain a
	// bearer token. It can also be loaded from an encrypted file.
	InitData         string `toml:"init_data"`
	InitDataFile     string `toml:"init_data_file"`
	InitDataPassword string `toml:"init_data_password"`

	// MTProto user session for the telegram market. GiftIDs maps collection
	// addresses to Telegram gift type ids.
	AppID       int              `toml:"app_id"`
	AppHash     string           `toml:"app_hash"`
	SessionFile string           `toml:"session_file"`
	GiftIDs     map[string]int64 `toml:"gift_ids"`
}

// Secret resolves the market's initData from the raw value or the encrypted
// file.
func (m MarketConfig) Secret() (string, error) {
	return crypto.LoadSecret(crypto.SecretConfig{
		Raw:           m.InitData,
		EncryptedPath: m.InitDataFile,
		Password:      m.InitDataPassword,
	})
}

// CollectionConfig seeds one tracked NFT collection.
type CollectionConfig struct {
	Address string `toml:"address"`
	Name    string `toml:"name"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ton_gifts",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  20,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			JobTTL:     duration{24 * time.Hour},
			KeyPrefix:  "giftagg",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "giftagg-archive",
			ForcePathStyle: true,
			Prefix:         "archive",
			Compress:       true,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			Topic:        "gift-price-events",
			BatchTimeout: duration{50 * time.Millisecond},
			Buffer:       1024,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			AdminRateLimit: 30,
		},
		WS: WSConfig{
			HeartbeatInterval: duration{30 * time.Second},
			StaleAfter:        duration{120 * time.Second},
			SendBuffer:        256,
		},
		Sync: SyncConfig{
			Interval:     duration{60 * time.Second},
			OnStartup:    true,
			BatchSize:    100,
			MaxListings:  1000,
			QueueSize:    16,
			SalesEnabled: true,
			SalesLimit:   100,
		},
		Sweep: SweepConfig{
			TTL:  duration{24 * time.Hour},
			Cron: "0 4 * * *",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"sync_errors", "job_failed"},
		},
		FX: FXConfig{
			StarsToTon: 0.013,
		},
		Markets: map[string]MarketConfig{
			"getgems": {
				Enabled:    true,
				BaseURL:    "https://api.getgems.io/graphql",
				RateLimit:  3.0,
				Timeout:    duration{30 * time.Second},
				MaxRetries: 3,
			},
			"fragment": {
				Enabled:    true,
				BaseURL:    "https://tonapi.io",
				RateLimit:  5.0,
				Timeout:    duration{30 * time.Second},
				MaxRetries: 3,
			},
			"tonnel": {
				Enabled:    false,
				BaseURL:    "https://api.tonnel.network",
				RateLimit:  2.0,
				Timeout:    duration{30 * time.Second},
				MaxRetries: 3,
			},
			"mrkt": {
				Enabled:    false,
				BaseURL:    "https://api.tgmrkt.io/api/v1",
				RateLimit:  3.0,
				Timeout:    duration{30 * time.Second},
				MaxRetries: 3,
			},
			"telegram": {
				Enabled:     false,
				RateLimit:   1.0,
				Timeout:     duration{30 * time.Second},
				SessionFile: "telegram.session",
			},
			"tonapi-sales": {
				Enabled:    true,
				BaseURL:    "https://tonapi.io",
				RateLimit:  5.0,
				Timeout:    duration{30 * time.Second},
				MaxRetries: 3,
			},
		},
		Collections: []CollectionConfig{
			{Address: "EQBTKUGf_2wz0mVji52re8oWcDZYUbCm2tAjAWYCODc2u5TP", Name: "GetGems Gifts"},
			{Address: "EQD-BJSVUJviud_Qv7Ymfd3qzXdrmV525e3YDzWQoHIAiInL", Name: "Fragment Gifts"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true, // scheduler, job worker, HTTP and WebSocket
	"worker": true, // scheduler and job worker only
	"server": true, // HTTP, WebSocket and the admin job worker
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, worker, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: requires s3.enabled")
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty when enabled")
		}
		if c.Kafka.Buffer < 0 {
			errs = append(errs, "kafka: buffer must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AdminRateLimit < 0 {
			errs = append(errs, "server: admin_rate_limit must be >= 0")
		}
	}

	// WebSocket registry
	if c.WS.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "ws: heartbeat_interval must be > 0")
	}
	if c.WS.StaleAfter.Duration <= c.WS.HeartbeatInterval.Duration {
		errs = append(errs, "ws: stale_after must exceed heartbeat_interval")
	}
	if c.WS.SendBuffer < 1 {
		errs = append(errs, "ws: send_buffer must be >= 1")
	}

	// Sync
	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be > 0")
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, "sync: batch_size must be >= 1")
	}
	if c.Sync.MaxListings < 1 {
		errs = append(errs, "sync: max_listings must be >= 1")
	}
	if c.Sync.QueueSize < 1 {
		errs = append(errs, "sync: queue_size must be >= 1")
	}

	// Sweep
	if c.Sweep.TTL.Duration <= 0 {
		errs = append(errs, "sweep: ttl must be > 0")
	}
	if len(strings.Fields(c.Sweep.Cron)) != 5 {
		errs = append(errs, fmt.Sprintf("sweep: cron must have 5 fields, got %q", c.Sweep.Cron))
	}

	if c.Archive.Enabled && c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1")
	}

	if c.FX.StarsToTon < 0 || c.FX.UsdtToTon < 0 {
		errs = append(errs, "fx: rates must not be negative")
	}

	for slug, m := range c.Markets {
		if !m.Enabled {
			continue
		}
		if m.BaseURL == "" && m.AppID == 0 {
			errs = append(errs, fmt.Sprintf("markets.%s: base_url must not be empty", slug))
		}
		if m.AppID != 0 && m.AppHash == "" {
			errs = append(errs, fmt.Sprintf("markets.%s: app_hash is required when app_id is set", slug))
		}
		if m.RateLimit <= 0 {
			errs = append(errs, fmt.Sprintf("markets.%s: rate_limit must be > 0", slug))
		}
		if m.InitDataFile != "" && m.InitDataPassword == "" {
			errs = append(errs, fmt.Sprintf("markets.%s: init_data_password is required when init_data_file is set", slug))
		}
	}

	for i, col := range c.Collections {
		if strings.TrimSpace(col.Address) == "" {
			errs = append(errs, fmt.Sprintf("collections[%d]: address must not be empty", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
