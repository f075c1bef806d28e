package config

import (
	"strings"

	logx "veloxbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. The telegram token never appears in the
// output, only whether one is set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Fetch != newCfg.Fetch {
		changed = append(changed, "fetch")
		attrs = append(attrs,
			logx.String("fetch.url", strings.TrimSpace(newCfg.Fetch.URL)),
			logx.String("fetch.timeout", strings.TrimSpace(newCfg.Fetch.Timeout)),
		)
	}

	if !watchEqual(oldCfg.Watch, newCfg.Watch) {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.String("watch.cron", strings.TrimSpace(newCfg.Watch.Cron)),
			logx.String("watch.quiet_start", strings.TrimSpace(newCfg.Watch.QuietStart)),
			logx.String("watch.quiet_end", strings.TrimSpace(newCfg.Watch.QuietEnd)),
		)
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Int("notify.retry_attempts", newCfg.Notify.RetryAttempts),
			logx.String("notify.message_delay", strings.TrimSpace(newCfg.Notify.MessageDelay)),
		)
	}

	if oldCfg.Images != newCfg.Images {
		changed = append(changed, "images")
		attrs = append(attrs,
			logx.Bool("images.enabled", newCfg.Images.Enabled),
			logx.String("images.cache_dir", strings.TrimSpace(newCfg.Images.CacheDir)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
		)
	}

	return changed, attrs
}

// watchEqual compares WatchConfig by value; the pointer field compares
// by what it resolves to, not by identity.
func watchEqual(a, b WatchConfig) bool {
	resolve := func(p *bool) bool {
		if p == nil {
			return true
		}
		return *p
	}
	return a.Cron == b.Cron &&
		a.Timezone == b.Timezone &&
		a.QuietStart == b.QuietStart &&
		a.QuietEnd == b.QuietEnd &&
		a.RunTimeout == b.RunTimeout &&
		a.FetchTimeout == b.FetchTimeout &&
		resolve(a.PersistOnAnyChange) == resolve(b.PersistOnAnyChange)
}
