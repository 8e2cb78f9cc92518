// Package app wires configuration, transports, the delivery scheduler, the
// pipeline and the HTTP API into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"studynotify/internal/compose"
	"studynotify/internal/config"
	"studynotify/internal/decision"
	"studynotify/internal/delivery"
	"studynotify/internal/domain"
	"studynotify/internal/eventbus"
	"studynotify/internal/httpapi"
	"studynotify/internal/metrics"
	"studynotify/internal/observability/pprof"
	"studynotify/internal/pipeline"
	rtsup "studynotify/internal/runtime/supervisor"
	"studynotify/internal/storage"
	"studynotify/internal/transport"
	"studynotify/internal/transport/telegram"
	"studynotify/internal/transport/webhook"
	"studynotify/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	stats *metrics.Collector

	sched    *delivery.Scheduler
	pipe     *pipeline.Service
	policy   atomic.Pointer[domain.Policy]
	resetter *statsResetter
	amqp     *eventbus.AMQPForwarder
	debug    *pprof.Server

	httpCfg httpSettings
	srv     *http.Server
	ln      net.Listener
}

// Option customizes New; tests use them to avoid global state.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer selects the prometheus registry. Default is the global one.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// New loads the config at cfgPath (empty means environment only) and builds
// every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	stats := metrics.New(o.registerer)
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	mux, err := buildTransports(cfg, stats, log)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	sched := delivery.New(dcfg, mux,
		delivery.WithBus(bus),
		delivery.WithRecorder(stats),
		delivery.WithLogger(log.With(logx.String("comp", "delivery"))))

	pcfg, err := mapPipelineConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	pipe := pipeline.New(pcfg,
		decision.New(decision.WithRecorder(stats), decision.WithLogger(log.With(logx.String("comp", "decision")))),
		compose.New(compose.WithRecorder(stats), compose.WithLogger(log.With(logx.String("comp", "compose")))),
		sched, stats, log)

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		stats:   stats,
		sched:   sched,
		pipe:    pipe,
		httpCfg: hcfg,
	}
	p := mapPolicy(cfg)
	a.policy.Store(&p)
	a.resetter = newStatsResetter(stats.Reset, log.With(logx.String("comp", "stats")))
	if acfg, ok := mapAMQPConfig(cfg); ok {
		a.amqp = eventbus.NewAMQPForwarder(acfg, bus, log)
	}
	if dbg, ok := mapDebugConfig(cfg); ok {
		a.debug = pprof.New(dbg, log)
	}

	api := httpapi.New(httpapi.Deps{
		Notifier:     pipe,
		Stats:        stats,
		Destinations: sched,
		Journal:      store,
		Policy:       a.currentPolicy,
	},
		httpapi.WithLogger(log),
		httpapi.WithRequestTimeout(hcfg.request),
		httpapi.WithMetrics(cfg.Metrics.Enabled))
	a.srv = &http.Server{
		Addr:              hcfg.addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       hcfg.read,
		WriteTimeout:      hcfg.write,
	}
	return a, nil
}

func buildTransports(cfg *config.Config, stats *metrics.Collector, log logx.Logger) (*transport.Mux, error) {
	wcfg, err := mapWebhookConfig(cfg)
	if err != nil {
		return nil, err
	}
	mux := transport.NewMux()
	mux.Handle(webhook.New(wcfg, webhook.WithObserver(stats), webhook.WithLogger(log)), "https", "http")

	tcfg, enabled, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		mux.Handle(telegram.New(tcfg, log), telegram.Scheme)
	}
	return mux, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func (a *App) currentPolicy() domain.Policy { return *a.policy.Load() }

// Pipeline exposes the service for embedding callers.
func (a *App) Pipeline() *pipeline.Service { return a.pipe }

// Addr is the bound API address once Start returned.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
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
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Everything the reload applies must map cleanly.
		if _, err := mapDeliveryConfig(cfg); err != nil {
			return err
		}
		_, err := mapPipelineConfig(cfg)
		return err
	})

	ln, err := net.Listen("tcp", a.httpCfg.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.httpCfg.addr, err)
	}
	a.ln = ln

	a.sched.Start(a.sup.Context())

	if a.store != nil {
		a.sup.Go("journal", func(c context.Context) error {
			return runJournal(c, a.bus, a.store, a.log.With(logx.String("comp", "journal")))
		})
	}
	if a.amqp != nil {
		// Broker outages must not take the API down; keep reconnecting.
		a.sup.GoRestart("events.amqp", a.amqp.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}
	if a.debug != nil {
		// Profiling is optional; a refused bind must not take the API down.
		a.sup.GoRestart("pprof", func(c context.Context) error {
			err := a.debug.Run(c)
			if errors.Is(err, pprof.ErrInsecureBind) {
				a.log.Error("pprof disabled", logx.Err(err))
				return nil
			}
			return err
		}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}
	if cfg := a.cfgm.Get(); cfg != nil {
		if err := a.resetter.Apply(cfg.Metrics.ResetSchedule, cfg.Metrics.Timezone); err != nil {
			a.log.Warn("stats reset schedule rejected", logx.Err(err))
		}
	}

	a.sup.Go("http", func(c context.Context) error {
		a.log.Info("http listening", logx.String("addr", ln.Addr().String()))
		err := a.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot-reloadable sections. Others need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
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
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

var restartSections = map[string]bool{"http": true, "webhook": true, "telegram": true, "storage": true, "events": true, "debug": true}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if dcfg, err := mapDeliveryConfig(newCfg); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(dcfg)
	}

	p := mapPolicy(newCfg)
	a.policy.Store(&p)

	if err := a.resetter.Apply(newCfg.Metrics.ResetSchedule, newCfg.Metrics.Timezone); err != nil {
		a.log.Warn("stats reset schedule rejected", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// step runs one shutdown step bounded by max and the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Stop taking requests first, then let in-flight deliveries finish.
	step("http", a.httpCfg.shutdown, a.srv.Shutdown)
	step("delivery", 3*time.Second, a.sched.Stop)
	step("stats.reset", time.Second, func(context.Context) error { a.resetter.Stop(); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
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
