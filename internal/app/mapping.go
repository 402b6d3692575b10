package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mangawatch/internal/config"
	"mangawatch/internal/notify"
	"mangawatch/internal/source"
	"mangawatch/internal/storage"
	"mangawatch/internal/watch"
	logx "mangawatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logChatTarget parses telegram.group_log; ok is false when unset or malformed.
func logChatTarget(cfg *config.Config) (int64, int, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return id, cfg.Logging.Telegram.ThreadID, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: cfg.SendTimeout(),
	}
}

func mapSchedulerConfig(cfg *config.Config) watch.SchedulerConfig {
	return watch.SchedulerConfig{
		Schedule:   cfg.Watch.Schedule,
		Timezone:   cfg.Watch.Timezone,
		RunOnStart: cfg.RunOnStart(),
	}
}

// buildRegistry returns the built-in site families plus the feed sites declared in config.
func buildRegistry(cfg *config.Config, log logx.Logger) (*source.Registry, error) {
	reg, err := source.NewRegistry(source.BuiltinFamilies(log)...)
	if err != nil {
		return nil, err
	}
	for i, f := range cfg.Sources.Feeds {
		fam := source.Family{
			Name:      f.Name,
			Domains:   f.Domains,
			Extractor: source.FeedExtractor{Family: f.Name, LabelPrefix: f.LabelPrefix},
		}
		if err := reg.Register(fam); err != nil {
			return nil, fmt.Errorf("sources.feeds[%d]: %w", i, err)
		}
	}
	return reg, nil
}

// ntfyDestinations turns configured ntfy topics into static destinations.
func ntfyDestinations(cfg *config.Config) []storage.Destination {
	var out []storage.Destination
	for _, topic := range cfg.Notifier.Ntfy.Topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		out = append(out, storage.Destination{
			Platform:    notify.PlatformNtfy,
			GroupID:     topic,
			GroupName:   "ntfy",
			ChannelID:   topic,
			ChannelName: topic,
		})
	}
	return out
}

// validateRuntime checks what config.Validate cannot: schedule syntax and site registration.
func validateRuntime(cfg *config.Config) error {
	if _, err := watch.ParseSchedule(cfg.Watch.Schedule); err != nil {
		return fmt.Errorf("watch.schedule: %w", err)
	}
	if _, err := buildRegistry(cfg, logx.Nop()); err != nil {
		return err
	}
	return nil
}
