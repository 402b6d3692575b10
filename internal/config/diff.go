package config

import (
	"reflect"
	"sort"
	"strings"

	logx "mangawatch/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe structured
// attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Watch, newCfg.Watch) {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.String("watch.schedule", newCfg.Watch.Schedule),
			logx.String("watch.timezone", newCfg.Watch.Timezone),
			logx.Int("watch.workers", newCfg.Watch.Workers),
			logx.String("watch.fetch_timeout", newCfg.Watch.FetchTimeout),
		)
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if on.RatePerSec != nn.RatePerSec || on.SendTimeout != nn.SendTimeout ||
		on.Ntfy.Server != nn.Ntfy.Server || on.Ntfy.Token != nn.Ntfy.Token ||
		!reflect.DeepEqual(on.Ntfy.Topics, nn.Ntfy.Topics) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.String("notifier.send_timeout", nn.SendTimeout),
			logx.Int("notifier.ntfy_topics", len(nn.Ntfy.Topics)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Int("sources.feeds", len(newCfg.Sources.Feeds)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports sections that cannot be applied to a running process.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "sources":
			out = append(out, s)
		}
	}
	return out
}
