package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GIFTAGG_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults plus
// environment are used instead. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GIFTAGG_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GIFTAGG_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // hosting platforms export this
	setStr(&cfg.Postgres.Host, "GIFTAGG_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GIFTAGG_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GIFTAGG_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GIFTAGG_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GIFTAGG_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GIFTAGG_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GIFTAGG_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GIFTAGG_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GIFTAGG_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GIFTAGG_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GIFTAGG_REDIS_PASSWORD")
	setStr(&cfg.Redis.KeyPrefix, "GIFTAGG_REDIS_KEY_PREFIX")
	setInt(&cfg.Redis.DB, "GIFTAGG_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GIFTAGG_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GIFTAGG_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GIFTAGG_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.JobTTL, "GIFTAGG_REDIS_JOB_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GIFTAGG_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GIFTAGG_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GIFTAGG_S3_REGION")
	setStr(&cfg.S3.Bucket, "GIFTAGG_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GIFTAGG_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GIFTAGG_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GIFTAGG_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GIFTAGG_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "GIFTAGG_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "GIFTAGG_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "GIFTAGG_KAFKA_TOPIC")
	setInt(&cfg.Kafka.Buffer, "GIFTAGG_KAFKA_BUFFER")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GIFTAGG_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GIFTAGG_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GIFTAGG_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "GIFTAGG_SERVER_ADMIN_API_KEY")
	setStringSlice(&cfg.Server.AdminReadKeys, "GIFTAGG_SERVER_ADMIN_READ_KEYS")
	setInt(&cfg.Server.AdminRateLimit, "GIFTAGG_SERVER_ADMIN_RATE_LIMIT")

	// ── WebSocket ──
	setDuration(&cfg.WS.HeartbeatInterval, "GIFTAGG_WS_HEARTBEAT_INTERVAL")
	setDuration(&cfg.WS.StaleAfter, "GIFTAGG_WS_STALE_AFTER")
	setInt(&cfg.WS.SendBuffer, "GIFTAGG_WS_SEND_BUFFER")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "GIFTAGG_SYNC_INTERVAL")
	setBool(&cfg.Sync.OnStartup, "GIFTAGG_SYNC_ON_STARTUP")
	setInt(&cfg.Sync.BatchSize, "GIFTAGG_SYNC_BATCH_SIZE")
	setInt(&cfg.Sync.MaxListings, "GIFTAGG_SYNC_MAX_LISTINGS")
	setInt(&cfg.Sync.QueueSize, "GIFTAGG_SYNC_QUEUE_SIZE")
	setBool(&cfg.Sync.SalesEnabled, "GIFTAGG_SYNC_SALES_ENABLED")
	setInt(&cfg.Sync.SalesLimit, "GIFTAGG_SYNC_SALES_LIMIT")

	// ── Sweep / archive ──
	setDuration(&cfg.Sweep.TTL, "GIFTAGG_SWEEP_TTL")
	setStr(&cfg.Sweep.Cron, "GIFTAGG_SWEEP_CRON")
	setBool(&cfg.Archive.Enabled, "GIFTAGG_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "GIFTAGG_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "GIFTAGG_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GIFTAGG_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GIFTAGG_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GIFTAGG_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GIFTAGG_NOTIFY_EVENTS")

	// ── FX ──
	setFloat64(&cfg.FX.StarsToTon, "GIFTAGG_FX_STARS_TO_TON")
	setFloat64(&cfg.FX.UsdtToTon, "GIFTAGG_FX_USDT_TO_TON")

	// ── Markets ──
	// GIFTAGG_MARKET_<SLUG>_<FIELD>, with '-' in the slug written as '_'.
	if cfg.Markets == nil {
		cfg.Markets = map[string]MarketConfig{}
	}
	for slug, m := range cfg.Markets {
		prefix := "GIFTAGG_MARKET_" + strings.ToUpper(strings.ReplaceAll(slug, "-", "_")) + "_"
		setBool(&m.Enabled, prefix+"ENABLED")
		setStr(&m.BaseURL, prefix+"BASE_URL")
		setStr(&m.APIKey, prefix+"API_KEY")
		setFloat64(&m.RateLimit, prefix+"RATE_LIMIT")
		setDuration(&m.Timeout, prefix+"TIMEOUT")
		setInt(&m.MaxRetries, prefix+"MAX_RETRIES")
		setStr(&m.InitData, prefix+"INIT_DATA")
		setStr(&m.InitDataFile, prefix+"INIT_DATA_FILE")
		setStr(&m.InitDataPassword, prefix+"INIT_DATA_PASSWORD")
		setInt(&m.AppID, prefix+"APP_ID")
		setStr(&m.AppHash, prefix+"APP_HASH")
		setStr(&m.SessionFile, prefix+"SESSION_FILE")
		cfg.Markets[slug] = m
	}

	// ── Top-level ──
	setStr(&cfg.Mode, "GIFTAGG_MODE")
	setStr(&cfg.LogLevel, "GIFTAGG_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
