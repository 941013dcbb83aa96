package app

import (
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/config"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/metrics"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/notify"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/pipeline"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/severity"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/source"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/storage"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	connect, err := config.ParseDurationOrDefault("storage.connect_timeout", sc.ConnectTimeout, 10*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:         strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:           strings.TrimSpace(sc.Path),
		BusyTimeout:    busy,
		DSN:            sc.DSN,
		MaxConns:       sc.MaxConns,
		ConnectTimeout: connect,
		Addr:           strings.TrimSpace(sc.Addr),
		Password:       sc.Password,
		DB:             sc.DB,
		KeyPrefix:      sc.KeyPrefix,
	}, nil
}

// mapThresholds falls back to the flight-disruption defaults when the table is empty.
func mapThresholds(cfg *config.Config) severity.Thresholds {
	if len(cfg.Severity.Thresholds) == 0 {
		return severity.DefaultThresholds()
	}
	out := make(severity.Thresholds, len(cfg.Severity.Thresholds))
	for name, th := range cfg.Severity.Thresholds {
		out[name] = severity.Boundary{High: th.High, Medium: th.Medium}
	}
	return out
}

// mapSources builds one pipeline source per configured entry, preserving
// order. Disabled sources keep their slot so the digest reports them.
func mapSources(cfg *config.Config, loc *time.Location, log logx.Logger) ([]pipeline.Source, error) {
	out := make([]pipeline.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		ps := pipeline.Source{
			ID:      sc.ID,
			Title:   sc.Title,
			Enabled: sc.Enabled,
			Monitor: sc.Monitor,
			Key:     record.FieldsKey(sc.IdentityFields...),
		}
		if sc.Enabled {
			ad, err := source.New(sc, source.Options{HTTP: cfg.HTTP, Location: loc, Log: log})
			if err != nil {
				return nil, err
			}
			ps.Adapter = ad
		}
		out = append(out, ps)
	}
	return out, nil
}

// buildPipeline wires everything a run needs except the store, which outlives
// config reloads.
func buildPipeline(cfg *config.Config, store storage.Store, rec *metrics.Recorder, log logx.Logger, dryRun bool) (*pipeline.Pipeline, error) {
	loc, err := config.ParseLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	srcs, err := mapSources(cfg, loc, log)
	if err != nil {
		return nil, err
	}
	ch, err := notify.New(cfg.Notifier, log)
	if err != nil {
		return nil, err
	}
	upcoming := config.DefaultUpcomingDays
	if cfg.Digest.UpcomingDays != nil {
		upcoming = *cfg.Digest.UpcomingDays
	}
	return pipeline.New(pipeline.Options{
		Sources:      srcs,
		Store:        store,
		Channel:      ch,
		Thresholds:   mapThresholds(cfg),
		Metrics:      rec,
		Log:          log,
		Title:        cfg.Digest.Title,
		UpcomingDays: upcoming,
		Location:     loc,
		DryRun:       dryRun,
	})
}
