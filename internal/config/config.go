package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Regions  []string       `yaml:"regions"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sources  SourcesConfig  `yaml:"sources"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// SnapshotConfig selects where the snapshot is persisted.
type SnapshotConfig struct {
	Driver string `yaml:"driver"` // "file", "sqlite" or "postgres"
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// ScheduleConfig configures the periodic pass.
type ScheduleConfig struct {
	At         string `yaml:"at"`       // daily wall-clock time, "HH:MM"
	Interval   string `yaml:"interval"` // used when At is empty
	RunOnStart bool   `yaml:"run_on_start"`
}

// ParseInterval returns the interval as time.Duration.
func (s ScheduleConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// SourcesConfig holds configuration for all data sources.
type SourcesConfig struct {
	YouTube      YouTubeConfig      `yaml:"youtube"`
	Discourse    DiscourseConfig    `yaml:"discourse"`
	GoogleTrends GoogleTrendsConfig `yaml:"google_trends"`
}

// YouTubeConfig for the video search adapter.
type YouTubeConfig struct {
	Enabled         bool     `yaml:"enabled"`
	APIKey          string   `yaml:"api_key"`
	Query           string   `yaml:"query"`
	MaxResults      int      `yaml:"max_results"`
	Channels        []string `yaml:"channels"`
	FetchStatistics bool     `yaml:"fetch_statistics"`
	BaseURL         string   `yaml:"base_url"`
}

// DiscourseConfig for the forum adapter.
type DiscourseConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// GoogleTrendsConfig for the trend adapter.
type GoogleTrendsConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Keywords  []string `yaml:"keywords"`
	Timeframe string   `yaml:"timeframe"`
	Delay     string   `yaml:"delay"`
	TZOffset  int      `yaml:"tz_offset"` // minutes west of UTC
	BaseURL   string   `yaml:"base_url"`
}

// ParseDelay returns the pacing delay as time.Duration.
func (g GoogleTrendsConfig) ParseDelay() time.Duration {
	d, err := time.ParseDuration(g.Delay)
	if err != nil || d <= 0 {
		return 8 * time.Second
	}
	return d
}

// AlertsConfig configures pass summary destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
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

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Regions: []string{"US", "IN"},
		Snapshot: SnapshotConfig{
			Driver: "file",
			Path:   "./workflows.json",
		},
		Schedule: ScheduleConfig{
			At:         "02:00",
			Interval:   "24h",
			RunOnStart: true,
		},
		Sources: SourcesConfig{
			YouTube: YouTubeConfig{
				Enabled:    true,
				Query:      "n8n workflow",
				MaxResults: 50,
			},
			Discourse: DiscourseConfig{
				Enabled: true,
				BaseURL: "https://community.n8n.io",
			},
			GoogleTrends: GoogleTrendsConfig{
				Enabled: true,
				Keywords: []string{
					"n8n workflow", "n8n automation",
					"n8n tutorial", "n8n integration",
				},
				Timeframe: "today 3-m",
				Delay:     "8s",
				TZOffset:  360,
			},
		},
		Server: ServerConfig{Port: 8000},
		Log:    LogConfig{Level: "info", Format: "text"},
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("config: at least one region is required")
	}
	switch c.Snapshot.Driver {
	case "", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown snapshot driver %q", c.Snapshot.Driver)
	}
	if c.Schedule.At != "" {
		if _, err := time.Parse("15:04", c.Schedule.At); err != nil {
			return fmt.Errorf("config: schedule.at must be HH:MM: %w", err)
		}
	}
	return nil
}

// SlogLevel maps the configured level name to slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.YouTube.APIKey = v
	}
	if v := os.Getenv("DISCOURSE_URL"); v != "" {
		cfg.Sources.Discourse.BaseURL = v
	}
	if v := os.Getenv("POPRADAR_REGIONS"); v != "" {
		var regions []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				regions = append(regions, strings.ToUpper(r))
			}
		}
		cfg.Regions = regions
	}
	if v := os.Getenv("POPRADAR_SNAPSHOT_DRIVER"); v != "" {
		cfg.Snapshot.Driver = v
	}
	if v := os.Getenv("POPRADAR_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("POPRADAR_DSN"); v != "" {
		cfg.Snapshot.DSN = v
	}
	if v := os.Getenv("POPRADAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
}
