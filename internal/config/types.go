package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Watch    WatchConfig    `json:"watch"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	Sources  SourcesConfig  `json:"sources"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is the chat id that receives WARN+ log lines when logging.telegram is enabled.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// WatchConfig controls the poll cycle.
//
// Schedule accepts a Go duration ("4h"), a cron expression ("0 */4 * * *")
// or a daily "HH:MM". RunOnStart is a pointer so an omitted key keeps the default (true).
type WatchConfig struct {
	Schedule     string `json:"schedule"`
	Timezone     string `json:"timezone,omitempty"`
	RunOnStart   *bool  `json:"run_on_start,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// NotifierConfig controls fan-out delivery.
type NotifierConfig struct {
	RatePerSec  int        `json:"rate_per_sec,omitempty"`
	SendTimeout string     `json:"send_timeout,omitempty"`
	Ntfy        NtfyConfig `json:"ntfy"`
}

// NtfyConfig declares static ntfy topics that receive every update
// in addition to the registered chat destinations.
type NtfyConfig struct {
	Server string   `json:"server,omitempty"`
	Token  string   `json:"token,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/mangawatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SourcesConfig struct {
	Feeds []FeedSource `json:"feeds,omitempty"`
}

// FeedSource declares a site tracked through its RSS/Atom document.
type FeedSource struct {
	Name        string   `json:"name"`
	Domains     []string `json:"domains"`
	LabelPrefix string   `json:"label_prefix,omitempty"`
}

const (
	DefaultSchedule     = "4h"
	DefaultWorkers      = 2
	DefaultFetchTimeout = 30 * time.Second
	DefaultRatePerSec   = 3
	DefaultSendTimeout  = 10 * time.Second
	DefaultStorePath    = "./data/mangawatch.db"
	DefaultNtfyServer   = "https://ntfy.sh"
)

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Watch.Schedule) == "" {
		c.Watch.Schedule = DefaultSchedule
	}
	if c.Watch.RunOnStart == nil {
		on := true
		c.Watch.RunOnStart = &on
	}
	if c.Watch.Workers <= 0 {
		c.Watch.Workers = DefaultWorkers
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = DefaultRatePerSec
	}
	if len(c.Notifier.Ntfy.Topics) > 0 && strings.TrimSpace(c.Notifier.Ntfy.Server) == "" {
		c.Notifier.Ntfy.Server = DefaultNtfyServer
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		if c.Storage.Driver == "file" {
			c.Storage.Path = "./data/mangawatch_store"
		} else {
			c.Storage.Path = DefaultStorePath
		}
	}
}

// Validate checks field-level constraints. It expects ApplyDefaults to have run.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("watch.fetch_timeout", c.Watch.FetchTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notifier.send_timeout", c.Notifier.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(c.Watch.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("watch.timezone: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}
	for i, f := range c.Sources.Feeds {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Errorf("sources.feeds[%d].name is required", i))
		}
		if len(f.Domains) == 0 {
			errs = append(errs, fmt.Errorf("sources.feeds[%d].domains is empty", i))
		}
	}
	return errors.Join(errs...)
}

// FetchTimeout returns the per-extraction timeout.
func (c *Config) FetchTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("watch.fetch_timeout", c.Watch.FetchTimeout, DefaultFetchTimeout)
	return d
}

func (c *Config) SendTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("notifier.send_timeout", c.Notifier.SendTimeout, DefaultSendTimeout)
	return d
}

func (c *Config) RunOnStart() bool {
	return c.Watch.RunOnStart == nil || *c.Watch.RunOnStart
}
