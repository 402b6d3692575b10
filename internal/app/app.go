package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"mangawatch/internal/commands"
	"mangawatch/internal/config"
	"mangawatch/internal/eventbus"
	"mangawatch/internal/notify"
	rtsup "mangawatch/internal/runtime/supervisor"
	"mangawatch/internal/source"
	"mangawatch/internal/storage"
	"mangawatch/internal/transport"
	telegram "mangawatch/internal/transport/telegram/adapter"
	"mangawatch/internal/watch"
	logx "mangawatch/pkg/logx"
	"mangawatch/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	lock  *flock.Flock
	store storage.Store
	dests *destinationSet

	adapter transport.Adapter
	sources *source.Service
	notif   *notify.Service
	watch   *watch.Service
	sched   *watch.Scheduler
	router  *commands.Router

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateRuntime(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("info").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Start with the chat sink off so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logs, log := logx.New(bootCfg, ad)
	if chatID, threadID, ok := logChatTarget(cfg); ok {
		logs.SetChatTarget(chatID, threadID)
	}
	logs.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	lock, err := acquireLock(sc.Path)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = lock.Unlock()
		return nil, err
	}

	reg, err := buildRegistry(cfg, log.With(logx.String("comp", "source")))
	if err != nil {
		return fail(err)
	}
	fetcher := source.NewFetcher(cfg.FetchTimeout(), cfg.Watch.UserAgent)
	sources := source.NewService(reg, fetcher, log.With(logx.String("comp", "source")))

	bus := eventbus.New()
	notif := notify.New(mapNotifierConfig(cfg), log, bus)
	notif.Register(notify.PlatformTelegram, notify.TelegramSender{Client: ad})
	notif.Register(notify.PlatformNtfy, notify.NtfySender{Server: cfg.Notifier.Ntfy.Server, Token: cfg.Notifier.Ntfy.Token})

	dests := newDestinationSet(store, ntfyDestinations(cfg))
	ws := watch.NewService(watch.Config{Workers: cfg.Watch.Workers}, store, dests, sources, notif, log, watch.WithBus(bus))
	sched, err := watch.NewScheduler(ws, mapSchedulerConfig(cfg), log)
	if err != nil {
		return fail(err)
	}

	router := commands.NewRouter(ad, log)
	commands.Install(router, commands.Deps{
		Works:     ws,
		Store:     store,
		Trigger:   sched,
		Supported: func() []string { return supportedDomains(reg) },
	})

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		lock:    lock,
		store:   store,
		dests:   dests,
		adapter: ad,
		sources: sources,
		notif:   notif,
		watch:   ws,
		sched:   sched,
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
}

func supportedDomains(reg *source.Registry) []string {
	var out []string
	for _, f := range reg.Families() {
		out = append(out, f.Domains...)
	}
	return out
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := mu.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
		cancel()
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if e.Type == eventbus.CycleFinished {
					if rep, ok := e.Data.(watch.CycleReport); ok {
						_, _ = systemd.Status("last cycle %s: %d checked, %d updated, %d failed",
							rep.ID, rep.Checked, rep.Updated, rep.Failed)
					}
				}
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c)
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler goes first: a running cycle finishes its in-flight work and may still deliver.
	step("scheduler", 60*time.Second, a.sched.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("lock", time.Second, func(context.Context) error { return a.lock.Unlock() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// reloadLoop applies validated config changes to the running services.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rs := config.RequiresRestart(sections); len(rs) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(rs, ",")))
	}
	if oldCfg.Watch.FetchTimeout != newCfg.Watch.FetchTimeout || oldCfg.Watch.UserAgent != newCfg.Watch.UserAgent {
		a.log.Warn("watch.fetch_timeout and watch.user_agent apply after a restart")
	}

	if chatID, threadID, ok := logChatTarget(newCfg); ok {
		a.logs.SetChatTarget(chatID, threadID)
	} else {
		a.logs.SetChatTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(newCfg))

	a.notif.Apply(mapNotifierConfig(newCfg))
	a.dests.SetStatic(ntfyDestinations(newCfg))
	a.watch.Apply(watch.Config{Workers: newCfg.Watch.Workers})
	if err := a.sched.Reschedule(mapSchedulerConfig(newCfg)); err != nil {
		a.log.Warn("invalid watch schedule; keeping previous", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
