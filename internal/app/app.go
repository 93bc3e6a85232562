// Package app wires configuration into the running bot: storage, delivery,
// fanout, the messaging adapter, user commands, the scheduler and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"firefeed/internal/config"
	"firefeed/internal/delivery"
	"firefeed/internal/eventbus"
	"firefeed/internal/fanout"
	"firefeed/internal/observability/opsserver"
	rtsup "firefeed/internal/runtime/supervisor"
	"firefeed/internal/session"
	"firefeed/internal/source"
	"firefeed/internal/storage"
	"firefeed/internal/task/scheduler"
	kit "firefeed/internal/transport"
	telegram "firefeed/internal/transport/telegram/adapter"
	"firefeed/internal/transport/telegram/router"
	logx "firefeed/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	nats *eventbus.NATSForwarder

	store     storage.Store
	overrides *storage.FeedOverrides
	sessions  *session.Store

	adapter *telegram.Adapter
	router  *router.Router
	cmds    *router.Handlers

	caps       *delivery.Caps
	locks      *delivery.Locks
	governor   *delivery.RateGovernor
	dispatcher *fanout.Dispatcher

	sched *scheduler.Service
	ops   *opsserver.Service
	reg   *prometheus.Registry

	updates chan kit.Update
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (_ *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	tgCfg, cmdTimeout, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tgCfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg), ad)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		locks:   delivery.NewLocks(),
		updates: make(chan kit.Update, 256),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	if cfg.Events.NATSURL != "" {
		fwd, err := eventbus.DialNATS(a.bus, cfg.Events.NATSURL, cfg.Events.SubjectPrefix, root.With(logx.String("comp", "nats")))
		if err != nil {
			return nil, fmt.Errorf("events.nats_url: %w", err)
		}
		a.nats = fwd
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, sc, root); err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	var src fanout.ItemSource
	if sourceFromDB(cfg) {
		s, ok := a.store.(fanout.ItemSource)
		if !ok {
			return nil, errors.New("source.mode=db: storage driver cannot list items")
		}
		src = s
	} else {
		srcCfg, err := mapSourceConfig(cfg)
		if err != nil {
			return nil, err
		}
		if src, err = source.New(srcCfg, root); err != nil {
			return nil, err
		}
	}

	sb, err := mapSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	var backend session.Backend = session.NewMemory(sb.TTL)
	if sb.Redis {
		if backend, err = session.DialRedis(ctx, sb.Conf); err != nil {
			return nil, err
		}
	}
	a.sessions = session.New(backend, a.store, root)

	defLimits, overrides := mapFeedLimits(cfg)
	a.overrides = storage.NewFeedOverrides(a.store, overrides)
	a.governor = delivery.NewRateGovernor(a.overrides, a.store, delivery.WithDefaultLimits(defLimits))
	a.caps = delivery.NewCaps(mapCapsConfig(cfg))

	es, err := mapExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}
	execOpts := []delivery.ExecutorOption{
		delivery.WithSubscriberRemover(a.store),
		delivery.WithExecutorLogger(root.With(logx.String("comp", "executor"))),
	}
	if es.ValidateImage {
		execOpts = append(execOpts, delivery.WithImageChecker(delivery.NewImageValidator(es.Image)))
	}
	executor := delivery.NewExecutor(ad, a.caps, es.Exec, execOpts...)

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fcfg, err := mapFanoutConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.dispatcher, err = fanout.New(fcfg, fanout.Deps{
		Source:      src,
		Ledger:      a.store,
		Subscribers: a.store,
		Selector:    delivery.NewSelector(a.store),
		Governor:    a.governor,
		Executor:    executor,
		Locks:       a.locks,
		Caps:        a.caps,
		Bus:         a.bus,
		Metrics:     fanout.NewMetrics(a.reg),
		Log:         root,
	})
	if err != nil {
		return nil, err
	}

	a.router = router.New(root.With(logx.String("comp", "router")), ad, cmdTimeout)
	a.cmds = &router.Handlers{Sessions: a.sessions, Prefs: a.store, Reports: a.dispatcher}

	a.sched = scheduler.New(mapSchedulerConfig(cfg), root.With(logx.String("comp", "scheduler")), a.bus)
	plan, err := mapJobPlan(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.registerJobs(plan); err != nil {
		return nil, err
	}

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = opsserver.New(opsCfg, opsserver.Deps{
		Gatherer:   a.reg,
		Registerer: a.reg,
		Checks:     a.readinessChecks(),
		Cycle:      a.dispatcher,
		Status:     a.status,
	}, root.With(logx.String("comp", "ops")))

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.router.SetRegistry(a.sup.Context(), a.cmds.Commands(), a.cmds.Text)
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; cycles run only when triggered through the ops server")
	}
	a.ops.Start(a.sup.Context())

	if a.nats != nil {
		a.sup.Go("events.nats", a.nats.Run)
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
				// per-delivery events are frequent; keep them at debug.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Stop in reverse dependency order: triggers first, then transport, then storage.
	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "resources", 2*time.Second, func(context.Context) error { a.closeResources(); return nil })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max so a stuck component cannot hold the rest.
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

func (a *App) closeResources() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.log.Warn("session close failed", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
}

func (a *App) readinessChecks() map[string]opsserver.Check {
	checks := map[string]opsserver.Check{
		"storage": func(ctx context.Context) error { return a.store.Ping(ctx) },
		"supervisor": func(context.Context) error {
			if a.sup == nil {
				return errors.New("not started")
			}
			return a.sup.Err()
		},
	}
	if a.nats != nil {
		checks["nats"] = func(context.Context) error {
			if !a.nats.Connected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	return checks
}

type statusView struct {
	LastCycle     *fanout.Report            `json:"last_cycle,omitempty"`
	CycleRunning  bool                      `json:"cycle_running"`
	Scheduler     scheduler.Snapshot        `json:"scheduler"`
	Supervisors   map[string]rtsup.Counters `json:"supervisors"`
	DroppedEvents uint64                    `json:"dropped_events"`
	DroppedLogs   uint64                    `json:"dropped_ops_logs"`
}

func (a *App) status() any {
	v := statusView{
		CycleRunning:  a.dispatcher.Running(),
		Scheduler:     a.sched.Snapshot(),
		Supervisors:   map[string]rtsup.Counters{},
		DroppedEvents: a.bus.Dropped(),
		DroppedLogs:   a.logs.Dropped(),
	}
	if r, ok := a.dispatcher.LastReport(); ok {
		v.LastCycle = &r
	}
	for name, s := range map[string]*rtsup.Supervisor{
		"app":    a.sup,
		"router": a.router.Supervisor(),
		"ops":    a.ops.Supervisor(),
	} {
		if s != nil {
			v.Supervisors[name] = s.Counters()
		}
	}
	return v
}
