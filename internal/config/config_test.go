package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadMergesFileAndDefaults(t *testing.T) {
	path := writeConfigFile(t, `
scheduler:
  interval: 90s
alerting:
  workers: 8
database:
  dsn: postgres://localhost/crops
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Scheduler.Interval != 90*time.Second {
		t.Fatalf("scheduler.interval = %s, want 90s", cfg.Scheduler.Interval)
	}
	if cfg.Alerting.Workers != 8 {
		t.Fatalf("alerting.workers = %d, want 8", cfg.Alerting.Workers)
	}
	if cfg.Database.DSN != "postgres://localhost/crops" {
		t.Fatalf("database.dsn = %q", cfg.Database.DSN)
	}

	// Untouched sections keep their defaults.
	if cfg.App.Name != "cropwatcher" {
		t.Fatalf("app.name default = %q", cfg.App.Name)
	}
	if cfg.Alerting.RetentionDays != 30 {
		t.Fatalf("alerting.retention_days default = %d", cfg.Alerting.RetentionDays)
	}
	if cfg.Alerting.PurgeEvery != 24*time.Hour {
		t.Fatalf("alerting.purge_every default = %s", cfg.Alerting.PurgeEvery)
	}
	if cfg.Export.MaxDataPoints != 100000 {
		t.Fatalf("export.max_data_points default = %d", cfg.Export.MaxDataPoints)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CROPWATCHER_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfigFile(t, "app:\n  name: cropwatcher\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q, want env override", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfigFile(t, "alerting:\n  workers: 0\n"))
	if err == nil {
		t.Fatal("zero workers must be rejected")
	}
}

func TestValidateRequiresTelegramCredentials(t *testing.T) {
	cfg := Config{
		Scheduler: SchedulerConfig{Interval: time.Minute},
		Alerting: AlertingConfig{
			Workers:       4,
			RetentionDays: 30,
			Telegram:      TelegramConfig{Enabled: true},
		},
		Export: ExportConfig{MaxDataPoints: 1000},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled telegram without credentials must be rejected")
	}

	cfg.Alerting.Telegram.BotToken = "token"
	cfg.Alerting.Telegram.ChatID = "chat"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete telegram config should validate: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 500}}

	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("no override should use the config value, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("a positive override wins, got %d", got)
	}
}
