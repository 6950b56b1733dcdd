package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Training.MinPoints != 30 {
		t.Fatalf("min_points = %d, want 30", cfg.Training.MinPoints)
	}
	if cfg.Training.HorizonDays != 365 {
		t.Fatalf("horizon_days = %d, want 365", cfg.Training.HorizonDays)
	}
	if cfg.Training.RetrainInterval() != 7*24*time.Hour {
		t.Fatalf("retrain interval = %v, want 168h", cfg.Training.RetrainInterval())
	}
	if cfg.Training.ParseFitTimeout() != 2*time.Minute {
		t.Fatalf("fit timeout = %v, want 2m", cfg.Training.ParseFitTimeout())
	}
	if cfg.Model.SeasonalityMode != "multiplicative" {
		t.Fatalf("seasonality_mode = %q", cfg.Model.SeasonalityMode)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: /data/prices.db
training:
  min_points: 14
  horizon_days: 90
schedule:
  train_interval: 6h
  ingest_interval: 1h
  ingest_keys:
    - daily/prices.csv
alerts:
  slack:
    enabled: true
    webhook_url: https://hooks.slack.com/services/T/B/X
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/data/prices.db" {
		t.Fatalf("db path = %q", cfg.Database.Path)
	}
	if cfg.Training.MinPoints != 14 || cfg.Training.HorizonDays != 90 {
		t.Fatalf("training overrides not applied: %+v", cfg.Training)
	}
	// Untouched keys keep their defaults.
	if cfg.Training.RetrainIntervalDays != 7 {
		t.Fatalf("retrain_interval_days = %d, want default 7", cfg.Training.RetrainIntervalDays)
	}
	if cfg.Schedule.ParseTrainInterval() != 6*time.Hour {
		t.Fatalf("train interval = %v", cfg.Schedule.ParseTrainInterval())
	}
	if cfg.Schedule.ParseIngestInterval() != time.Hour {
		t.Fatalf("ingest interval = %v", cfg.Schedule.ParseIngestInterval())
	}
	if len(cfg.Schedule.IngestKeys) != 1 || cfg.Schedule.IngestKeys[0] != "daily/prices.csv" {
		t.Fatalf("ingest keys = %v", cfg.Schedule.IngestKeys)
	}
	if !cfg.Alerts.Slack.Enabled {
		t.Fatal("slack alerts not enabled")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRICESCOUT_DB_PATH", "/tmp/env.db")
	t.Setenv("PRICESCOUT_PORT", "9090")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Fatalf("db path = %q", cfg.Database.Path)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if !cfg.Alerts.Slack.Enabled || cfg.Alerts.Slack.WebhookURL != "https://hooks.slack.com/services/env" {
		t.Fatalf("slack env override not applied: %+v", cfg.Alerts.Slack)
	}
}

func TestScheduleIngestIntervalDisabled(t *testing.T) {
	var s ScheduleConfig
	if s.ParseIngestInterval() != 0 {
		t.Fatalf("empty interval should disable ingest, got %v", s.ParseIngestInterval())
	}
	s.IngestInterval = "bogus"
	if s.ParseIngestInterval() != 0 {
		t.Fatalf("unparseable interval should disable ingest, got %v", s.ParseIngestInterval())
	}
}
