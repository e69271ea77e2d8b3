package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"lovepush/internal/api"
	"lovepush/internal/catalog"
	"lovepush/internal/config"
	"lovepush/internal/device"
	"lovepush/internal/eventbus"
	"lovepush/internal/gateway"
	"lovepush/internal/metrics"
	"lovepush/internal/platform"
	"lovepush/internal/push"
	"lovepush/internal/relay"
	"lovepush/internal/runtime/supervisor"
	"lovepush/internal/schedule"
	"lovepush/internal/storage"
	"lovepush/internal/trigger"
	logx "lovepush/pkg/logx"
)

const broadcastJob = "push.broadcast"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log     logx.Logger
	base    logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	selector *catalog.Selector
	history  *device.History
	runner   *schedule.Runner

	// Device session; nil when notifications are disabled.
	plat    platform.Platform
	gateway *gateway.Gateway
	trigger *trigger.Trigger

	// Web push; nil when push is disabled.
	bcast *push.Broadcaster
	vapid *push.WebPush

	handler http.Handler
	server  *api.Server
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	// Chat logging starts disabled so Apply can enable it once the sink is set.
	bootCfg := mapLogConfig(cfg.Logging)
	bootCfg.Chat.Enabled = false
	logs, base := logx.New(bootCfg)
	cfgm.SetLogger(base)

	a := &App{
		cfgm:    cfgm,
		log:     base.With(logx.String("comp", "app")),
		base:    base,
		logs:    logs,
		bus:     eventbus.New(),
		metrics: metrics.New(),
	}
	ok := false
	defer func() {
		if !ok {
			a.abort()
		}
	}()

	sc := mapStorageConfig(cfg.Storage)
	store, err := OpenStore(cfg, base)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.store = store
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	if a.selector, err = NewSelector(cfg); err != nil {
		return nil, err
	}
	loc := a.selector.Location()
	a.history = device.NewHistory(store, cfg.Notifications.HistorySize)
	a.runner = schedule.NewRunner(loc, base)

	if cfg.Notifications.Enabled {
		if err := a.buildSession(cfg, loc); err != nil {
			return nil, err
		}
	}
	if err := a.attachChatSink(cfg); err != nil {
		return nil, err
	}
	logs.Apply(mapLogConfig(cfg.Logging))

	if cfg.Push.Enabled {
		if a.bcast, a.vapid, err = NewBroadcaster(cfg, store, a.selector, a.bus, a.metrics, base); err != nil {
			return nil, fmt.Errorf("push: %w", err)
		}
	}

	a.handler = api.NewRouter(a.routerOptions())
	a.server = api.NewServer(mapServerConfig(cfg.Server), a.handler, base)
	ok = true
	return a, nil
}

func (a *App) buildSession(cfg *config.Config, loc *time.Location) error {
	plat, err := platform.Open(mapPlatformConfig(cfg), a.base)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	a.plat = plat
	prefs := device.NewPreferences(a.store)

	gopts := gateway.Options{
		Platform: plat,
		Prefs:    prefs,
		Bus:      a.bus,
		Location: loc,
		Log:      a.base,
	}
	if u := relayURL(cfg); u != "" {
		gopts.Relay = relay.New(relay.Config{URL: u}, a.base)
	}
	a.gateway = gateway.New(gopts)

	settings, err := mapTriggerSettings(cfg, loc)
	if err != nil {
		return err
	}
	a.trigger, err = trigger.New(trigger.Options{
		Selector: a.selector,
		History:  a.history,
		Prefs:    prefs,
		Platform: plat,
		Runner:   a.runner,
		Bus:      a.bus,
		Log:      a.base,
	}, settings)
	return err
}

// attachChatSink mirrors log records into the telegram chat. The notification
// platform is reused when it already is telegram.
func (a *App) attachChatSink(cfg *config.Config) error {
	if !cfg.Logging.Telegram.Enabled {
		return nil
	}
	if tg, ok := a.plat.(*platform.Telegram); ok {
		a.logs.SetChatSink(tg)
		return nil
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" || cfg.Telegram.ChatID == 0 {
		a.log.Warn("telegram logging enabled but telegram.token or telegram.chat_id is missing")
		return nil
	}
	tg, err := platform.NewTelegram(mapPlatformConfig(cfg).Telegram, a.base)
	if err != nil {
		return fmt.Errorf("telegram log sink: %w", err)
	}
	a.logs.SetChatSink(tg)
	return nil
}

func (a *App) routerOptions() api.Options {
	opts := api.Options{
		Selector: a.selector,
		Users:    a.store,
		Bus:      a.bus,
		Metrics:  a.metrics,
		Log:      a.base,
	}
	if a.gateway != nil {
		opts.Gateway = a.gateway
		opts.History = a.history
	}
	if a.bcast != nil {
		opts.Broadcaster = a.bcast
		opts.VAPIDPublicKey = a.vapid.PublicKey
	}
	return opts
}

func (a *App) abort() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler { return a.handler }

// Addr is the bound API address, empty while the server is not listening.
func (a *App) Addr() string { return a.server.Addr() }

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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()
	cfg := a.cfgm.Get()

	// Subscribe before anything publishes so the first gateway state is seen.
	a.watchEvents()

	a.runner.Start(c)
	if a.bcast != nil {
		a.setBroadcastSchedule(cfg.Push.Schedule)
	}

	a.server.Start(c)
	if cfg.Server.Enabled {
		bctx, cancel := context.WithTimeout(c, 5*time.Second)
		err := a.server.WaitBound(bctx)
		cancel()
		if err != nil {
			a.log.Warn("http server not bound yet", logx.Err(err))
		} else {
			a.log.Info("http server listening", logx.String("addr", a.server.Addr()))
		}
	}

	if a.gateway != nil {
		st := a.gateway.Check(c)
		a.log.Info("notification session", logx.String("platform", a.plat.Name()), logx.String("state", string(st.State)))
		if cfg.Notifications.AutoEnable && st.State == gateway.StateDefault {
			if st, err := a.gateway.Request(c); err != nil {
				a.log.Warn("auto enable failed", logx.Err(err))
			} else {
				a.log.Info("auto enable finished", logx.String("state", string(st.State)))
			}
		}
		if err := a.trigger.Start(c); err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
	}

	a.reloadLoop()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// watchEvents feeds metrics from the bus and logs each event at debug.
func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(128,
		eventbus.TypeGatewayState,
		eventbus.TypeTriggerFired,
		eventbus.TypeTriggerFailed,
		eventbus.TypeUserRegistered,
		eventbus.TypeBroadcastDone,
	)
	states := gateway.StateNames()
	a.sup.Go0("eventbus.observe", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch e.Type {
				case eventbus.TypeGatewayState:
					if st, ok := e.Data.(gateway.Status); ok {
						a.metrics.SetGatewayState(string(st.State), states)
					}
				case eventbus.TypeTriggerFired:
					a.metrics.TriggerCheck(string(trigger.OutcomeFired))
				case eventbus.TypeTriggerFailed:
					a.metrics.TriggerCheck(string(trigger.OutcomeFailed))
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) setBroadcastSchedule(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		a.runner.Remove(broadcastJob)
		return
	}
	if err := a.runner.Set(broadcastJob, raw, a.runBroadcast); err != nil {
		a.log.Warn("invalid push schedule; broadcast not scheduled", logx.String("schedule", raw), logx.Err(err))
		return
	}
	a.log.Info("push broadcast scheduled", logx.String("schedule", raw), logx.Time("next", a.runner.Next(broadcastJob)))
}

func (a *App) runBroadcast(ctx context.Context) {
	st, err := a.bcast.Broadcast(ctx)
	if err != nil {
		a.log.Error("scheduled broadcast failed", logx.Err(err))
		return
	}
	a.log.Info("scheduled broadcast done",
		logx.Int("total", st.TotalUsers),
		logx.Int("ok", st.Successful),
		logx.Int("failed", st.Failed),
		logx.Int("deactivated", st.Deactivated))
}

func (a *App) reloadLoop() {
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
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.apply(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// apply pushes the live parts of next into running components. Sections that
// need a restart are only reported.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	a.logs.Apply(mapLogConfig(next.Logging))

	loc := a.selector.Location()
	if slices.Contains(ch.Sections, "catalog") {
		in, err := mapSelectorInputs(next)
		if err != nil {
			a.log.Warn("invalid catalog config; keeping previous", logx.Err(err))
		} else {
			cat := in.cat
			if cat == nil {
				cat = catalog.Default()
			}
			a.selector.Update(cat, in.strategy, in.specials, in.loc)
			loc = in.loc
			a.runner.SetLocation(loc)
		}
	}

	if a.trigger != nil {
		s, err := mapTriggerSettings(next, loc)
		if err == nil {
			err = a.trigger.Apply(s)
		}
		if err != nil {
			a.log.Warn("invalid notifications config; keeping previous", logx.Err(err))
		}
	}
	a.history.SetCapacity(next.Notifications.HistorySize)

	if a.bcast != nil && strings.TrimSpace(prev.Push.Schedule) != strings.TrimSpace(next.Push.Schedule) {
		a.setBroadcastSchedule(next.Push.Schedule)
	}

	a.server.Reconfigure(ctx, mapServerConfig(next.Server))

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("trigger", time.Second, func(context.Context) error {
		if a.trigger != nil {
			a.trigger.Stop()
		}
		return nil
	})
	step("schedule", 2*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("http", 10*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event observer).
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if c.Err() != nil {
			a.log.Warn("goroutines still running", logx.String("names", strings.Join(a.sup.Running(), ",")))
		}
		return err
	})

	a.log.Info("stopped", logx.Int64("events_dropped", int64(a.bus.Dropped())))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// runStep runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
		return nil
	}
}
