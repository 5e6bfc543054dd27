package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string              `yaml:"discord_token"`
	DatabaseURL   string              `yaml:"database_url"`
	LogLevel      string              `yaml:"log_level"`
	Health        HealthConfig        `yaml:"health"`
	Database      DatabaseConfig      `yaml:"database"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Embed         EmbedConfig         `yaml:"embed"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// NotificationsConfig selects the operator channel that receives guild join
// and leave notices. Empty disables them.
type NotificationsConfig struct {
	LogChannelID string `yaml:"log_channel_id"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type DatabaseConfig struct {
	MaxConns int `yaml:"max_conns"`
	MinConns int `yaml:"min_conns"`
}

type JobsConfig struct {
	StartupDelaySeconds        int `yaml:"startup_delay_seconds"`
	ValidationIntervalSeconds  int `yaml:"validation_interval_seconds"`
	ValidationBatchSize        int `yaml:"validation_batch_size"`
	ValidationConcurrency      int `yaml:"validation_concurrency"`
	RecycleIntervalMinutes     int `yaml:"recycle_interval_minutes"`
	RecycleConcurrency         int `yaml:"recycle_concurrency"`
	RetentionDays              int `yaml:"retention_days"`
	RecycleChannelDelayMillis  int `yaml:"recycle_channel_delay_ms"`
	BackfillChannelDelayMillis int `yaml:"backfill_channel_delay_ms"`
	MessageFetchLimit          int `yaml:"message_fetch_limit"`
}

type EmbedConfig struct {
	DefaultColor int `yaml:"default_color"`
	ErrorColor   int `yaml:"error_color"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Health:   HealthConfig{Enabled: false, Addr: ":8080"},
		Database: DatabaseConfig{MaxConns: 10, MinConns: 2},
		Jobs: JobsConfig{
			StartupDelaySeconds:        60,
			ValidationIntervalSeconds:  20,
			ValidationBatchSize:        25,
			ValidationConcurrency:      2,
			RecycleIntervalMinutes:     60,
			RecycleConcurrency:         2,
			RetentionDays:              14,
			RecycleChannelDelayMillis:  500,
			BackfillChannelDelayMillis: 1000,
			MessageFetchLimit:          10,
		},
		Embed: EmbedConfig{
			DefaultColor: 0xF8F8FF,
			ErrorColor:   0xEF4444,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	normalizeJobs(&cfg.Jobs)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Database.MaxConns = envInt("DATABASE_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MinConns = envInt("DATABASE_MIN_CONNS", cfg.Database.MinConns)
	cfg.Jobs.StartupDelaySeconds = envInt("JOBS_STARTUP_DELAY_SECONDS", cfg.Jobs.StartupDelaySeconds)
	cfg.Jobs.ValidationIntervalSeconds = envInt("VALIDATION_INTERVAL_SECONDS", cfg.Jobs.ValidationIntervalSeconds)
	cfg.Jobs.ValidationBatchSize = envInt("VALIDATION_BATCH_SIZE", cfg.Jobs.ValidationBatchSize)
	cfg.Jobs.ValidationConcurrency = envInt("VALIDATION_CONCURRENCY", cfg.Jobs.ValidationConcurrency)
	cfg.Jobs.RecycleIntervalMinutes = envInt("RECYCLE_INTERVAL_MINUTES", cfg.Jobs.RecycleIntervalMinutes)
	cfg.Jobs.RecycleConcurrency = envInt("RECYCLE_CONCURRENCY", cfg.Jobs.RecycleConcurrency)
	cfg.Jobs.RetentionDays = envInt("RETENTION_DAYS", cfg.Jobs.RetentionDays)
	cfg.Jobs.RecycleChannelDelayMillis = envInt("RECYCLE_CHANNEL_DELAY_MS", cfg.Jobs.RecycleChannelDelayMillis)
	cfg.Jobs.BackfillChannelDelayMillis = envInt("BACKFILL_CHANNEL_DELAY_MS", cfg.Jobs.BackfillChannelDelayMillis)
	cfg.Jobs.MessageFetchLimit = envInt("MESSAGE_FETCH_LIMIT", cfg.Jobs.MessageFetchLimit)
	cfg.Embed.DefaultColor = envInt("EMBED_COLOR_DEFAULT", cfg.Embed.DefaultColor)
	cfg.Embed.ErrorColor = envInt("EMBED_COLOR_ERROR", cfg.Embed.ErrorColor)
	cfg.Notifications.LogChannelID = envString("LOG_CHANNEL_ID", cfg.Notifications.LogChannelID)
}

// normalizeJobs clamps values that would otherwise stall a ticker or request
// an unsupported message page size.
func normalizeJobs(jobs *JobsConfig) {
	defaults := DefaultConfig().Jobs
	if jobs.ValidationIntervalSeconds <= 0 {
		jobs.ValidationIntervalSeconds = defaults.ValidationIntervalSeconds
	}
	if jobs.RecycleIntervalMinutes <= 0 {
		jobs.RecycleIntervalMinutes = defaults.RecycleIntervalMinutes
	}
	if jobs.ValidationBatchSize <= 0 {
		jobs.ValidationBatchSize = defaults.ValidationBatchSize
	}
	if jobs.ValidationConcurrency <= 0 {
		jobs.ValidationConcurrency = 1
	}
	if jobs.RecycleConcurrency <= 0 {
		jobs.RecycleConcurrency = 1
	}
	if jobs.RetentionDays <= 0 {
		jobs.RetentionDays = defaults.RetentionDays
	}
	if jobs.MessageFetchLimit <= 0 || jobs.MessageFetchLimit > 100 {
		jobs.MessageFetchLimit = defaults.MessageFetchLimit
	}
	if jobs.StartupDelaySeconds < 0 {
		jobs.StartupDelaySeconds = 0
	}
}

func (j JobsConfig) StartupDelay() time.Duration {
	return time.Duration(j.StartupDelaySeconds) * time.Second
}

func (j JobsConfig) ValidationInterval() time.Duration {
	return time.Duration(j.ValidationIntervalSeconds) * time.Second
}

func (j JobsConfig) RecycleInterval() time.Duration {
	return time.Duration(j.RecycleIntervalMinutes) * time.Minute
}

func (j JobsConfig) RecycleChannelDelay() time.Duration {
	return time.Duration(j.RecycleChannelDelayMillis) * time.Millisecond
}

func (j JobsConfig) BackfillChannelDelay() time.Duration {
	return time.Duration(j.BackfillChannelDelayMillis) * time.Millisecond
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
