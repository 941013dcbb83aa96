// Package app wires configuration, storage, sources, notification, metrics
// and scheduling into a runnable monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/config"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/metrics"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/pipeline"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/runtime/supervisor"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/scheduler"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/storage"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
	"github.com/rdjerrouf/Chicago-Event-Monitor/pkg/systemd"
)

// runTimeout bounds one scheduled run.
const runTimeout = 15 * time.Minute

type Options struct {
	ConfigPath string
	// DryRun composes digests without sending them or committing snapshots.
	DryRun bool
	// Getenv overrides the environment lookup used for *_env credentials.
	Getenv func(string) string
}

type App struct {
	cfgm   *config.Manager
	log    logx.Logger
	logs   *logx.Service
	store  storage.Store
	rec    *metrics.Recorder
	dryRun bool

	pipe atomic.Pointer[pipeline.Pipeline]
	// lastStorageErr backs /healthz in serve mode.
	lastStorageErr atomic.Pointer[error]

	sup   *supervisor.Supervisor
	sched *scheduler.Service
	sd    systemd.Notifier
}

// New loads the config, opens the store and builds the pipeline. A config or
// storage error here is fatal for the process.
func New(ctx context.Context, opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	if opts.Getenv != nil {
		cfgm.SetGetenv(opts.Getenv)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		store:  store,
		rec:    metrics.NewRecorder(),
		dryRun: opts.DryRun,
	}
	p, err := buildPipeline(cfg, store, a.rec, log, opts.DryRun)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.pipe.Store(p)
	a.log.Info("monitor ready",
		logx.String("storage", sc.Driver),
		logx.String("notifier", cfg.Notifier.Channel),
		logx.Int("sources", len(cfg.Sources)),
		logx.Bool("dry_run", opts.DryRun),
	)
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Store() storage.Store { return a.store }

// RunOnce executes one pass. Only a storage failure is returned as an error.
func (a *App) RunOnce(ctx context.Context, mode pipeline.Mode) (pipeline.Report, error) {
	rep, err := a.pipe.Load().Run(ctx, mode)
	if err != nil {
		a.lastStorageErr.Store(&err)
	} else {
		a.lastStorageErr.Store(nil)
	}
	return rep, err
}

// Close releases the store and log sinks. Serve calls it on its way out.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Serve schedules full and monitor runs until ctx is done, then shuts down.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if strings.TrimSpace(cfg.Scheduler.Full) == "" && strings.TrimSpace(cfg.Scheduler.Monitor) == "" {
		return errors.New("serve mode needs scheduler.full or scheduler.monitor")
	}
	loc, err := config.ParseLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sched = scheduler.New(loc, a.log)
	a.sched.OnSkip = func(name string) {
		a.log.Warn("run skipped: previous run still in flight", logx.String("schedule", name))
	}

	jobs := []struct {
		name, spec string
		mode       pipeline.Mode
	}{
		{"full", cfg.Scheduler.Full, pipeline.ModeFull},
		{"monitor", cfg.Scheduler.Monitor, pipeline.ModeMonitor},
	}
	for _, j := range jobs {
		if strings.TrimSpace(j.spec) == "" {
			continue
		}
		mode := j.mode
		if err := a.sched.Add(j.name, j.spec, runTimeout, func(c context.Context) error {
			_, err := a.RunOnce(c, mode)
			return err
		}); err != nil {
			return fmt.Errorf("scheduler.%s: %w", j.name, err)
		}
	}
	a.sched.Start(a.sup.Context())

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{Addr: cfg.Metrics.Addr, Path: cfg.Metrics.Path}, a.rec, a.health, a.log)
		srv.Start(a.sup)
	}

	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		_, err := buildPipeline(next, a.store, a.rec, logx.Nop(), a.dryRun)
		return err
	})
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		return a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return a.sd.Watchdog(c, a.health) })

	if cfg.Scheduler.RunOnStart {
		a.sup.Go("run.start", func(c context.Context) error {
			_, err := a.RunOnce(c, pipeline.ModeFull)
			if errors.Is(err, storage.ErrStorageFailure) {
				a.log.Error("startup run hit a storage failure", logx.Err(err))
			}
			return nil
		})
	}

	_, _ = a.sd.Ready()
	a.reportNext()
	a.log.Info("serving", logx.String("full", cfg.Scheduler.Full), logx.String("monitor", cfg.Scheduler.Monitor))

	<-a.sup.Context().Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Stop(stopCtx)
}

func (a *App) health() error {
	if p := a.lastStorageErr.Load(); p != nil && *p != nil {
		return *p
	}
	return nil
}

func (a *App) reportNext() {
	parts := make([]string, 0, 2)
	for _, name := range []string{"full", "monitor"} {
		if next := a.sched.Next(name); !next.IsZero() {
			parts = append(parts, name+" "+next.Format("Mon 15:04"))
		}
	}
	if len(parts) > 0 {
		_, _ = a.sd.Status("next: %s", strings.Join(parts, ", "))
	}
}

// reloadLoop applies reloaded configs. Logging and everything the pipeline
// owns take effect on the next run; RestartSections only log a warning.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			changed, attrs := config.SummarizeConfigChange(last, next)
			if len(changed) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			_, _ = a.sd.Reloading()
			if restart := config.NeedsRestart(changed); len(restart) > 0 {
				a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
			}
			a.logs.Apply(mapLogConfig(next))

			p, err := buildPipeline(next, a.store, a.rec, a.logs.Logger(), a.dryRun)
			if err != nil {
				a.log.Warn("reloaded config not applied; keeping previous pipeline", logx.Err(err))
			} else {
				a.pipe.Store(p)
			}
			last = next
			_, _ = a.sd.Ready()
			a.log.Info("config applied", attrs...)
		}
	}
}

// Stop shuts serve mode down. Each step gets a bounded slice of ctx so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	_, _ = a.sd.Stopping()
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error {
		if a.sched != nil {
			a.sched.Stop(c)
		}
		return nil
	})
	var supErr error
	step("supervisor", 3*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		supErr = a.sup.Wait(c)
		return nil
	})
	a.log.Info("stopped")
	if err := a.Close(); err != nil {
		return err
	}
	if supErr != nil && !errors.Is(supErr, context.Canceled) && !errors.Is(supErr, context.DeadlineExceeded) {
		return supErr
	}
	return nil
}
