// Package app wires configuration, storage, the report pipeline, the
// scheduler and the Telegram transport into one process.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"reportbot/internal/checker"
	"reportbot/internal/config"
	"reportbot/internal/delivery"
	"reportbot/internal/eventbus"
	"reportbot/internal/pipeline"
	"reportbot/internal/registry"
	"reportbot/internal/report"
	rtsup "reportbot/internal/runtime/supervisor"
	"reportbot/internal/storage"
	"reportbot/internal/task/scheduler"
	kit "reportbot/internal/transport"
	telegram "reportbot/internal/transport/telegram/adapter"
	"reportbot/internal/transport/telegram/router"
	logx "reportbot/pkg/logx"
)

const registryLoadTimeout = 10 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	reg      *registry.Registry
	checker  *checker.Checker
	builder  *report.Builder
	delivery *delivery.Engine
	pipe     *pipeline.Pipeline
	sched    *scheduler.Service

	adapter *telegram.Adapter
	router  *router.Router
	cmds    *commandSet

	updates chan kit.Update
}

// New loads the config and builds every component. A registry that cannot
// be loaded is fatal: the bot never starts with an unknown subscriber set.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram sink is enabled only after its target is known, so Apply
	// does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)
	logSvc.SetTelegramTarget(cfg.Telegram.GroupLog, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
	}, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(store, log, registry.WithBus(bus))
	lctx, cancel := context.WithTimeout(context.Background(), registryLoadTimeout)
	err = reg.Load(lctx)
	cancel()
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("load subscribers from %s: %w", sc.Path, err)
	}
	appLog.Info("subscribers loaded", logx.String("driver", sc.Driver), logx.String("path", sc.Path), logx.Int("count", reg.Len()))

	chk := checker.New(mapCheckerConfig(cfg), nil, log)
	builder := report.NewBuilder(mapReportConfig(cfg), log)
	deliv := delivery.New(mapDeliveryConfig(cfg), ad, reg, log)
	pipe := pipeline.New(pipeline.Deps{
		Registry: reg,
		Checker:  chk,
		Builder:  builder,
		Delivery: deliv,
	}, log, pipeline.WithBus(bus))

	sched := scheduler.New(mapSchedulerConfig(cfg), log, bus)
	if err := sched.AddSchedule(reportSchedule, cfg.Scheduler.Schedule, cfg.Scheduler.RunTimeoutOrDefault(), scheduledJob(pipe)); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("scheduler.schedule: %w", err)
	}

	rt := router.New(log, ad, cfg.Telegram.OwnerUserIDs)
	cmds := &commandSet{
		pipe:        pipe,
		sched:       sched,
		leads:       chk,
		stats:       builder,
		subscribers: reg.Len,
		runTimeout:  cfg.Scheduler.RunTimeoutOrDefault(),
	}
	rt.SetCommands(cmds.commands())

	return &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		reg:      reg,
		checker:  chk,
		builder:  builder,
		delivery: deliv,
		pipe:     pipe,
		sched:    sched,
		adapter:  ad,
		router:   rt,
		cmds:     cmds,
		updates:  make(chan kit.Update, 256),
	}, nil
}

func scheduledJob(p *pipeline.Pipeline) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := p.RunScheduled(ctx)
		return err
	}
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cmds.runtime = a.sup.Counters
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.router.UpdateMenu(mctx, a.adapter); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("subscribers", a.reg.Len()),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.String("tz", a.sched.Location().String()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// step bounds one shutdown phase so it cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Scheduler first: an in-flight broadcast still needs the adapter and store.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
