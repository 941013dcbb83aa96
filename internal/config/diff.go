package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// RestartSections are applied only at startup; a reload that changes them is
// accepted but logged as requiring a restart.
var RestartSections = []string{"storage", "metrics", "scheduler"}

// SummarizeConfigChange returns the changed top-level sections, sorted, and
// safe structured attrs for logging. Secrets never appear in the attrs.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	sections := map[string][2]any{
		"logging":   {oldCfg.Logging, newCfg.Logging},
		"storage":   {oldCfg.Storage, newCfg.Storage},
		"notifier":  {oldCfg.Notifier, newCfg.Notifier},
		"http":      {oldCfg.HTTP, newCfg.HTTP},
		"sources":   {oldCfg.Sources, newCfg.Sources},
		"severity":  {oldCfg.Severity, newCfg.Severity},
		"digest":    {oldCfg.Digest, newCfg.Digest},
		"scheduler": {oldCfg.Scheduler, newCfg.Scheduler},
		"metrics":   {oldCfg.Metrics, newCfg.Metrics},
	}
	changed := make([]string, 0, len(sections))
	for name, pair := range sections {
		if !reflect.DeepEqual(pair[0], pair[1]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)

	attrs := make([]logx.Field, 0, 8)
	attrs = append(attrs, logx.Strings("changed", changed))
	for _, name := range changed {
		switch name {
		case "logging":
			attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
		case "notifier":
			attrs = append(attrs,
				logx.String("notifier.channel", newCfg.Notifier.Channel),
				logx.Bool("notifier.telegram.token_set", strings.TrimSpace(newCfg.Notifier.Telegram.Token) != ""),
			)
		case "sources":
			ids := make([]string, 0, len(newCfg.Sources))
			for _, s := range newCfg.Sources {
				if s.Enabled {
					ids = append(ids, s.ID)
				}
			}
			attrs = append(attrs, logx.Strings("sources.enabled", ids))
		case "storage":
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	return changed, attrs
}

// NeedsRestart reports the changed sections that a reload cannot apply.
func NeedsRestart(changed []string) []string {
	out := make([]string, 0)
	for _, c := range changed {
		for _, r := range RestartSections {
			if c == r {
				out = append(out, c)
			}
		}
	}
	return out
}
