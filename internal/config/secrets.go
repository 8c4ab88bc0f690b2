package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.AdminAPIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.AdminReadKeys != nil {
		out.Server.AdminReadKeys = make([]string, len(cfg.Server.AdminReadKeys))
		for i, k := range cfg.Server.AdminReadKeys {
			out.Server.AdminReadKeys[i] = k
			redact(&out.Server.AdminReadKeys[i])
		}
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Kafka.Brokers != nil {
		out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	}
	if cfg.Collections != nil {
		out.Collections = append([]CollectionConfig(nil), cfg.Collections...)
	}
	if cfg.Markets != nil {
		out.Markets = make(map[string]MarketConfig, len(cfg.Markets))
		for slug, m := range cfg.Markets {
			redact(&m.APIKey)
			redact(&m.InitData)
			redact(&m.InitDataPassword)
			redact(&m.AppHash)
			out.Markets[slug] = m
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
