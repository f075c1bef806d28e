// Package config loads, validates and watches the bot configuration.
// YAML and JSON are both accepted; YAML is coerced to JSON so a single
// strict decoder catches unknown keys in either format.
package config

import (
	"fmt"
	"strings"
	"time"

	"veloxbot/internal/fetch"
	"veloxbot/internal/mapimg"
	"veloxbot/internal/notify"
	"veloxbot/internal/storage"
	"veloxbot/internal/watch"
	logx "veloxbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Fetch    FetchConfig    `json:"fetch"`
	Watch    WatchConfig    `json:"watch"`
	Notify   NotifyConfig   `json:"notify"`
	Images   ImagesConfig   `json:"images"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	// Token may be empty here; the environment takes precedence at startup.
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type FetchConfig struct {
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	// Timeout is a Go duration string.
	Timeout string `json:"timeout,omitempty"`
}

// WatchConfig controls the periodic schedule and the quiet window.
//
// All durations are Go duration strings (e.g. "45s", "10m").
type WatchConfig struct {
	// Cron is a standard 5-field cron spec; defaults to twice a day.
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// QuietStart/QuietEnd delimit the window [start, end) in which
	// scheduled checks are skipped, as HH:MM. Both empty disables it.
	QuietStart string `json:"quiet_start,omitempty"`
	QuietEnd   string `json:"quiet_end,omitempty"`

	RunTimeout   string `json:"run_timeout,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`

	// PersistOnAnyChange is a pointer so an omitted field keeps the
	// historical default (true) while an explicit false is honored.
	PersistOnAnyChange *bool `json:"persist_on_any_change,omitempty"`
}

type NotifyConfig struct {
	RetryAttempts int `json:"retry_attempts,omitempty"`
	// RetryDelay and MessageDelay are Go duration strings.
	RetryDelay   string `json:"retry_delay,omitempty"`
	MessageDelay string `json:"message_delay,omitempty"`
}

type ImagesConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseURL  string `json:"base_url,omitempty"`
	CacheDir string `json:"cache_dir,omitempty"`
	// Timeout is a Go duration string.
	Timeout string `json:"timeout,omitempty"`
	Zoom    int    `json:"zoom,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Dir    string `json:"dir,omitempty"`    // file driver
	Path   string `json:"path,omitempty"`   // sqlite driver
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate checks everything that can fail without touching the network,
// so a bad file is rejected before it replaces a running configuration.
func (c *Config) Validate() error {
	if _, err := c.LogxConfig(); err != nil {
		return err
	}
	if _, err := c.FetchConfig(); err != nil {
		return err
	}
	if _, err := c.WatchConfig(); err != nil {
		return err
	}
	if _, err := c.PipelineConfig(); err != nil {
		return err
	}
	if _, err := c.NotifyConfig(); err != nil {
		return err
	}
	if _, _, err := c.ImageSettings(); err != nil {
		return err
	}
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) LogxConfig() (logx.Config, error) {
	level := strings.TrimSpace(c.Logging.Level)
	switch strings.ToLower(level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return logx.Config{}, fmt.Errorf("logging.level: unknown level %q", level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return logx.Config{}, fmt.Errorf("logging.file.path: required when file logging is enabled")
	}
	return logx.Config{
		Level:   level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    strings.TrimSpace(c.Logging.File.Path),
		},
	}, nil
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) FetchConfig() (fetch.Config, error) {
	timeout, err := ParseDurationField("fetch.timeout", c.Fetch.Timeout)
	if err != nil {
		return fetch.Config{}, err
	}
	return fetch.Config{
		URL:      strings.TrimSpace(c.Fetch.URL),
		Selector: strings.TrimSpace(c.Fetch.Selector),
		Timeout:  timeout,
	}, nil
}

func (c *Config) WatchConfig() (watch.Config, error) {
	quiet, err := watch.ParseQuietWindow(c.Watch.QuietStart, c.Watch.QuietEnd)
	if err != nil {
		return watch.Config{}, fmt.Errorf("watch.quiet_start/quiet_end: %w", err)
	}
	runTimeout, err := ParseDurationField("watch.run_timeout", c.Watch.RunTimeout)
	if err != nil {
		return watch.Config{}, err
	}
	return watch.Config{
		CronSpec:   strings.TrimSpace(c.Watch.Cron),
		Timezone:   strings.TrimSpace(c.Watch.Timezone),
		Quiet:      quiet,
		RunTimeout: runTimeout,
	}, nil
}

func (c *Config) PipelineConfig() (watch.PipelineConfig, error) {
	fetchTimeout, err := ParseDurationField("watch.fetch_timeout", c.Watch.FetchTimeout)
	if err != nil {
		return watch.PipelineConfig{}, err
	}
	persist := true
	if c.Watch.PersistOnAnyChange != nil {
		persist = *c.Watch.PersistOnAnyChange
	}
	return watch.PipelineConfig{
		FetchTimeout:       fetchTimeout,
		PersistOnAnyChange: persist,
	}, nil
}

func (c *Config) NotifyConfig() (notify.Config, error) {
	if c.Notify.RetryAttempts < 0 {
		return notify.Config{}, fmt.Errorf("notify.retry_attempts: must be >= 0")
	}
	retryDelay, err := ParseDurationField("notify.retry_delay", c.Notify.RetryDelay)
	if err != nil {
		return notify.Config{}, err
	}
	messageDelay, err := ParseDurationField("notify.message_delay", c.Notify.MessageDelay)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Retry: notify.RetryPolicy{
			Attempts: c.Notify.RetryAttempts,
			Delay:    retryDelay,
		},
		MessageDelay: messageDelay,
	}, nil
}

// ImageSettings returns the downloader configuration and render
// parameters. The first value is zero when images are disabled.
func (c *Config) ImageSettings() (mapimg.DownloaderConfig, mapimg.Params, error) {
	timeout, err := ParseDurationField("images.timeout", c.Images.Timeout)
	if err != nil {
		return mapimg.DownloaderConfig{}, mapimg.Params{}, err
	}
	if c.Images.Zoom < 0 || c.Images.Width < 0 || c.Images.Height < 0 {
		return mapimg.DownloaderConfig{}, mapimg.Params{}, fmt.Errorf("images: zoom/width/height must be >= 0")
	}
	dl := mapimg.DownloaderConfig{
		BaseURL: strings.TrimSpace(c.Images.BaseURL),
		Timeout: timeout,
	}
	params := mapimg.Params{
		Zoom:   c.Images.Zoom,
		Width:  c.Images.Width,
		Height: c.Images.Height,
	}
	return dl, params, nil
}

func (c *Config) StorageConfig() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.TrimSpace(c.Storage.Driver)
	switch driver {
	case "", "file", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: unknown driver %q", driver)
	}
	return storage.Config{
		Driver:      driver,
		Dir:         strings.TrimSpace(c.Storage.Dir),
		Path:        strings.TrimSpace(c.Storage.Path),
		BusyTimeout: busy,
	}, nil
}
