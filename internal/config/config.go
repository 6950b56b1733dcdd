package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is passed by value into component
// constructors; nothing reads it as ambient process state.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Bucket   BucketConfig   `yaml:"bucket"`
	Training TrainingConfig `yaml:"training"`
	Model    ModelConfig    `yaml:"model"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BucketConfig configures the blob source for ingestion.
type BucketConfig struct {
	Name string `yaml:"name"`
}

// TrainingConfig configures eligibility thresholds and the forecast window.
type TrainingConfig struct {
	MinPoints           int     `yaml:"min_points"`
	HorizonDays         int     `yaml:"horizon_days"`
	RetrainIntervalDays int     `yaml:"retrain_interval_days"`
	ValidationSplit     float64 `yaml:"validation_split"`
	FitTimeout          string  `yaml:"fit_timeout"`
}

// RetrainInterval returns the retrain interval as a duration.
func (t TrainingConfig) RetrainInterval() time.Duration {
	return time.Duration(t.RetrainIntervalDays) * 24 * time.Hour
}

// ParseFitTimeout returns the per-item model fit timeout.
func (t TrainingConfig) ParseFitTimeout() time.Duration {
	d, err := time.ParseDuration(t.FitTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// ModelConfig carries forecast-model hyperparameters. The pipeline treats
// them opaquely: they are handed to the engine and recorded verbatim in
// each trained version's metadata.
type ModelConfig struct {
	WeeklySeasonality     bool    `yaml:"weekly_seasonality" json:"weekly_seasonality"`
	YearlySeasonality     bool    `yaml:"yearly_seasonality" json:"yearly_seasonality"`
	DailySeasonality      bool    `yaml:"daily_seasonality" json:"daily_seasonality"`
	SeasonalityMode       string  `yaml:"seasonality_mode" json:"seasonality_mode"`
	ChangepointPriorScale float64 `yaml:"changepoint_prior_scale" json:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `yaml:"seasonality_prior_scale" json:"seasonality_prior_scale"`
}

// ScheduleConfig configures the daemon loop.
type ScheduleConfig struct {
	TrainInterval  string   `yaml:"train_interval"`
	IngestInterval string   `yaml:"ingest_interval"`
	IngestKeys     []string `yaml:"ingest_keys"`
}

// ParseTrainInterval returns the train interval as a duration.
func (s ScheduleConfig) ParseTrainInterval() time.Duration {
	d, err := time.ParseDuration(s.TrainInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ParseIngestInterval returns the ingest interval, zero when disabled.
func (s ScheduleConfig) ParseIngestInterval() time.Duration {
	if s.IngestInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(s.IngestInterval)
	if err != nil {
		return 0
	}
	return d
}

// AlertsConfig configures training-pass alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig selects the logger mode.
type LoggingConfig struct {
	Mode string `yaml:"mode"` // "dev" or "prod"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./pricescout.db"},
		Training: TrainingConfig{
			MinPoints:           30,
			HorizonDays:         365,
			RetrainIntervalDays: 7,
			ValidationSplit:     0.2,
			FitTimeout:          "2m",
		},
		Model: ModelConfig{
			WeeklySeasonality:     true,
			YearlySeasonality:     true,
			DailySeasonality:      false,
			SeasonalityMode:       "multiplicative",
			ChangepointPriorScale: 0.05,
			SeasonalityPriorScale: 10.0,
		},
		Schedule: ScheduleConfig{
			TrainInterval: "24h",
		},
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Mode: "dev"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRICESCOUT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PRICESCOUT_BUCKET"); v != "" {
		cfg.Bucket.Name = v
	}
	if v := os.Getenv("PRICESCOUT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRICESCOUT_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
