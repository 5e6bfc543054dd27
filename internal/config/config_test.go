package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/sakura")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without database url")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
discord_token: from-file
database_url: postgres://file/sakura
jobs:
  retention_days: 7
  message_fetch_limit: 500
embed:
  default_color: 255
notifications:
  log_channel_id: "42"
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("VALIDATION_INTERVAL_SECONDS", "45")
	t.Setenv("LOG_CHANNEL_ID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.DiscordToken)
	}
	if cfg.DatabaseURL != "postgres://file/sakura" {
		t.Fatalf("expected file database url, got %q", cfg.DatabaseURL)
	}
	if cfg.Jobs.RetentionDays != 7 {
		t.Fatalf("expected retention 7, got %d", cfg.Jobs.RetentionDays)
	}
	if cfg.Jobs.MessageFetchLimit != 10 {
		t.Fatalf("expected clamped fetch limit 10, got %d", cfg.Jobs.MessageFetchLimit)
	}
	if cfg.Jobs.ValidationInterval() != 45*time.Second {
		t.Fatalf("expected 45s validation interval, got %s", cfg.Jobs.ValidationInterval())
	}
	if cfg.Embed.DefaultColor != 255 {
		t.Fatalf("expected embed color 255, got %d", cfg.Embed.DefaultColor)
	}
	if cfg.Notifications.LogChannelID != "42" {
		t.Fatalf("expected log channel 42, got %q", cfg.Notifications.LogChannelID)
	}
}

func TestBuildLoggerUnknownLevel(t *testing.T) {
	logger, err := BuildLogger("verbose")
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	if logger.Core().Enabled(parseLevel("debug")) {
		t.Fatalf("expected debug disabled for unknown level")
	}
}
