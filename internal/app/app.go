// Package app wires configuration, storage, notifier, providers, runners and
// the scheduler into one process.
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"paybybot/internal/config"
	"paybybot/internal/eventbus"
	"paybybot/internal/notifier"
	"paybybot/internal/parking"
	"paybybot/internal/provider/memory"
	"paybybot/internal/status"
	"paybybot/internal/storage"
	"paybybot/internal/task/runner"
	"paybybot/internal/task/scheduler"
	"paybybot/internal/taskstore"
	logx "paybybot/pkg/logx"
	"paybybot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif  *notifier.Service
	tasks  *taskstore.Store
	sched  *scheduler.Service
	status *status.Server

	// portal backs the memory provider driver; nil otherwise.
	portal *memory.Portal

	missing bool
	started time.Time
}

// New loads the config at cfgPath and builds every component. A missing file
// is not an error: the app starts with no tasks. A malformed file, or tasks
// that fail validation, are returned as parking.ErrConfig.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	missing := errors.Is(err, config.ErrNotFound)
	if err != nil && !missing {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	if missing {
		log.Warn("config file not found; running without tasks", logx.String("path", cfgm.Path()))
	}

	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, missing: missing, started: time.Now()}
	if err := a.build(cfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.logs.Logger()
	a.bus = eventbus.New(100)

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, smtp, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, log.With(logx.String("comp", "notifier")), a.bus,
		notifier.NewMail(smtp), notifier.NewTelegram())

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	rcfg, err := mapRunnerConfig(cfg, scfg.Location)
	if err != nil {
		return err
	}
	open, portal, err := mapProvider(cfg, scfg.Location, log.With(logx.String("comp", "provider")))
	if err != nil {
		return err
	}
	a.portal = portal
	if portal != nil {
		a.log.Warn("memory provider selected; no real payment will be made")
	}

	a.sched = scheduler.New(scfg, a.notif, log.With(logx.String("comp", "scheduler")), a.bus)

	var ledger runner.Ledger
	if a.store != nil {
		ledger = a.store
		a.sched.SetJournal(a.store)
	}
	pay := runner.NewPayRunner(rcfg, open, a.notif, ledger, a.bus, log.With(logx.String("comp", "pay")))
	check := runner.NewCheckRunner(rcfg, open, a.sched, pay, a.notif, log.With(logx.String("comp", "check")))
	a.sched.SetHandler(&runner.Dispatcher{Check: check, Pay: pay})

	a.tasks = taskstore.New(log.With(logx.String("comp", "taskstore")))
	tasks, err := a.tasks.Load(cfg)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := a.sched.Load(tasks, now); err != nil {
		return err
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pending, err := a.store.ListPendingPay(ctx)
		cancel()
		if err != nil {
			a.log.Warn("pending pay jobs unreadable", logx.Err(err))
		} else if n := a.sched.Restore(pending); n > 0 {
			a.log.Info("pending pay jobs restored", logx.Int("count", n))
		}
	}

	if sc, enabled := mapStatusConfig(cfg); enabled {
		src := status.Sources{
			Jobs:          a.sched.Snapshot,
			Tasks:         a.tasks.Names,
			Notifications: a.notif.Snapshot,
			Bus:           a.bus,
			Started:       a.started,
		}
		if a.store != nil {
			src.Payments = a.store
		}
		a.status = status.New(sc, src, log.With(logx.String("comp", "status")))
	}
	return nil
}

// validate is run on every hot reload before the new config is committed.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	loc, err := config.ParseLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	if _, err := taskstore.Build(cfg.Tasks, loc); err != nil {
		return err
	}
	if _, _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	return nil
}

// Run blocks until ctx is done or a component fails. With no tasks and no
// service manager to keep it alive, it returns immediately.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if len(a.tasks.Tasks()) == 0 && !systemd.UnderSystemd() {
		a.log.Warn("no tasks to run; exiting")
		return nil
	}

	a.cfgm.SetValidator(a.validate)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sched.Run(gctx) })
	g.Go(func() error { return a.cfgm.Watch(gctx) })
	g.Go(func() error { return systemd.Watchdog(gctx) })
	if a.status != nil {
		g.Go(func() error { return a.status.Run(gctx) })
	}

	sub := a.cfgm.Subscribe(4)
	g.Go(func() error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(gctx, sub)
		return nil
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.setStatus()
	a.log.Info("paybybot started", logx.Int("tasks", len(a.tasks.Tasks())), logx.String("config", a.cfgm.Path()))

	err := g.Wait()
	if _, nerr := systemd.Stopping(); nerr != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(nerr))
	}
	a.log.Info("paybybot stopped")
	return err
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

// apply pushes a committed config to the running components. Sections that
// are bound at startup are only reported.
func (a *App) apply(prev, cfg *config.Config) {
	sections, fields, changedTasks := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config change summary", fields...)
	_, _ = systemd.Reloading()

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(cfg))
		case "notifier":
			if ncfg, _, err := mapNotifierConfig(cfg); err == nil {
				a.notif.Apply(ncfg)
			}
		case "tasks":
			tasks, err := a.tasks.Load(cfg)
			if err != nil {
				a.log.Error("task reload rejected", logx.Err(err))
				continue
			}
			a.log.Info("tasks changed", logx.Any("names", changedTasks))
			a.sched.Reload(tasks)
		default:
			a.log.Warn("config section changed; restart to apply", logx.String("section", s))
		}
	}
	_, _ = systemd.Ready()
	a.setStatus()
}

func (a *App) setStatus() {
	n := len(a.tasks.Tasks())
	msg := "idle: no tasks configured"
	if n > 0 {
		msg = "watching " + strings.Join(a.tasks.Names(), ", ")
	}
	_, _ = systemd.Status(msg)
}

// Close releases storage and log files. Safe to call more than once.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.logs != nil {
		err = errors.Join(err, a.logs.Close())
	}
	return err
}

// Tasks returns the current task set.
func (a *App) Tasks() []*parking.Task { return a.tasks.Tasks() }

// Jobs returns the scheduler queue.
func (a *App) Jobs() []scheduler.JobInfo { return a.sched.Snapshot() }

// Portal is the in-memory portal when provider.driver is "memory".
func (a *App) Portal() *memory.Portal { return a.portal }
