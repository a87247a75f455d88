package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/commands"
	"castbot/internal/config"
	"castbot/internal/eventbus"
	"castbot/internal/observability/metrics"
	rtsup "castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	telegram "castbot/internal/transport/telegram/adapter"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter     kit.Adapter
	coordinator *broadcast.Coordinator
	collector   *metrics.Collector
	metricsSrv  *metrics.Server
	router      *router.Router

	notify  func(state string)
	updates chan kit.Update
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
	notify  func(state string)
}

// WithAdapter replaces the Telegram adapter (tests, alternative transports).
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

// WithNotifier replaces the systemd sd_notify call.
func WithNotifier(fn func(state string)) Option { return func(o *options) { o.notify = fn } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	ad := o.adapter
	if ad == nil {
		acfg, err := mapAdapterConfig(cfg)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(acfg, logSvc.Logger().With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bopts, err := mapBroadcastOptions(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	collector := metrics.New()
	deps := broadcast.Deps{
		Platform: broadcast.NewAdapterPlatform(ad, logSvc.Logger()),
		Log:      logSvc.Logger(),
		Bus:      bus,
		Metrics:  collector,
	}
	// A nil *store must not become a non-nil interface.
	var auditReader commands.AuditReader
	if store != nil {
		deps.Audit = store
		auditReader = store
	}
	coord := broadcast.NewCoordinator(bopts, deps)

	rt := router.New(logSvc.Logger(), ad)
	rt.SetCommands(commands.New(coord, auditReader, logSvc.Logger()).Commands())

	notify := o.notify
	if notify == nil {
		notify = sdNotify(log)
	}

	return &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		adapter:     ad,
		coordinator: coord,
		collector:   collector,
		metricsSrv:  metrics.NewServer(mapMetricsConfig(cfg), collector, logSvc.Logger()),
		router:      rt,
		notify:      notify,
		updates:     make(chan kit.Update, 256),
	}, nil
}

func sdNotify(log logx.Logger) func(string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Debug("sd_notify sent", logx.String("state", state))
		}
	}
}

// Coordinator exposes the broadcast engine (tests, operational tooling).
func (a *App) Coordinator() *broadcast.Coordinator { return a.coordinator }

// Done is closed when the app supervisor context is cancelled (fatal error or Stop()).
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
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	// Reject reloads the running app cannot map.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapBroadcastOptions(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("adapter start: %w", err)
	}

	// Menu sync is best-effort; the bot works without it.
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.router.SyncMenu(mctx); err != nil {
			a.log.Warn("menu sync failed", logx.Err(err))
		}
	})

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128, "broadcast.")
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

	a.metricsSrv.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
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
				newCfg = latest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// latest drains queued configs so bursts collapse into one apply.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	if bopts, err := mapBroadcastOptions(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		// Running broadcasts keep their options; the next one picks these up.
		a.coordinator.Apply(bopts)
	}

	a.metricsSrv.Reconfigure(ctx, mapMetricsConfig(next))

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram":
			a.log.Warn("telegram config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int("active_broadcasts", a.coordinator.Registry().ActiveCount()))
	a.notify(daemon.SdNotifyStopping)

	// Cancel the run context first so loops and running broadcasts unwind.
	a.sup.Cancel()

	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Wait for supervised goroutines before closing the store so the last
	// audit entries land.
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max so a stuck component cannot
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
