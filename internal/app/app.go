package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/multierr"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/config"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/dispatch"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/eventbus"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/housekeeping"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/httpapi"
	rtsup "github.com/Aaditya1273/InsightMeet-sub000/internal/runtime/supervisor"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/storage"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopRequested  StopReason = "requested"
)

// sdNotify is swapped in tests.
var sdNotify = daemon.SdNotify

// App wires config, logging, the outcome journal, the transport, the
// dispatch queue, housekeeping and the HTTP API.
type App struct {
	cfgm  *config.ConfigManager
	supMu sync.Mutex
	sup   *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	retain int

	tr    transport.Transport
	disp  *dispatch.Service
	house *housekeeping.Service
	http  *httpapi.Server

	shutdownTimeout atomic.Int64 // time.Duration; updated on reload
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
		bus:  eventbus.New(),
	}
	a.shutdownTimeout.Store(int64(mapShutdownTimeout(cfg)))
	if err := a.build(cfg); err != nil {
		if a.store != nil {
			err = multierr.Append(err, a.store.Close())
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	sc, keep, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store, a.retain = st, keep
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	if a.tr, err = newTransport(cfg, a.log); err != nil {
		return err
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}
	a.disp = dispatch.New(dcfg, a.tr, a.log.With(logx.String("comp", "dispatch")), a.bus, a.store)

	plan, err := mapHousekeepingConfig(cfg)
	if err != nil {
		return err
	}
	a.house = housekeeping.New(plan.cfg, a.log.With(logx.String("comp", "housekeeping")), a.bus)
	if err := a.registerJobs(plan); err != nil {
		return err
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	deps := httpapi.Deps{
		Dispatch:     a.disp,
		Jobs:         a.house,
		Runtime:      a,
		Log:          a.log.With(logx.String("comp", "http")),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}
	if a.store != nil {
		deps.Outcomes = a.store
	}
	a.http = httpapi.NewServer(hcfg, httpapi.NewHandler(deps), a.log.With(logx.String("comp", "http")))
	return nil
}

func (a *App) registerJobs(p housekeepingPlan) error {
	log := a.log.With(logx.String("comp", "housekeeping"))
	return errors.Join(
		a.house.Register(housekeeping.StatusLogJob(p.statusLog, a.disp, log)),
		a.house.Register(housekeeping.DedupPruneJob(p.dedupPrune, a.disp, log)),
		a.house.Register(housekeeping.JournalGCJob(p.journalGC, a.store, a.retain, log)),
		a.house.Register(housekeeping.WatchdogJob(p.watchdog)),
	)
}

// Dispatch exposes the queue for embedding callers.
func (a *App) Dispatch() *dispatch.Service { return a.disp }

// Runtime reports the goroutines of every supervised component.
func (a *App) Runtime() map[string]rtsup.Snapshot {
	a.supMu.Lock()
	sup := a.sup
	a.supMu.Unlock()
	return map[string]rtsup.Snapshot{
		"app":      sup.Snapshot(),
		"dispatch": a.disp.Runtime(),
		"http":     a.http.Runtime(),
	}
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

// Start launches every component. Cancelling ctx does not tear the app down;
// callers are expected to call Stop so in-flight deliveries can finish.
func (a *App) Start(ctx context.Context) error {
	sup := rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.supMu.Lock()
	a.sup = sup
	a.supMu.Unlock()
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.disp.Start(run)
	a.house.Start(run)
	a.http.Start(run)

	if a.bus != nil {
		events, unsub := eventbus.Filtered(a.bus, 128, "dispatch.")
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			a.logEvents(c, events)
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := sdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.String("transport", a.tr.Name()),
		logx.Bool("storage", a.store != nil),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// logEvents mirrors dispatch events at debug level.
func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
			if o, ok := e.Data.(dispatch.Outcome); ok {
				fields = append(fields, logx.String("id", o.MessageID))
			}
			a.log.Debug("event", fields...)
		}
	}
}

// applyConfig hot-reloads every section that supports it. Storage and
// transport are bound at startup.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range []string{"storage", "transport", "dkim"} {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(next))

	if dcfg, err := mapDispatchConfig(next); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
	}

	if plan, err := mapHousekeepingConfig(next); err != nil {
		a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
	} else {
		if err := a.registerJobs(plan); err != nil {
			a.log.Warn("housekeeping jobs not updated", logx.Err(err))
		}
		a.house.Apply(plan.cfg)
	}

	if hcfg, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hcfg)
	}
	a.shutdownTimeout.Store(int64(mapShutdownTimeout(next)))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// validate runs the component mappings so a bad reload is rejected before
// it is committed.
func validate(cfg *config.Config) error {
	var errs error
	if _, err := mapDispatchConfig(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := mapHousekeepingConfig(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, _, _, err := mapStorageConfig(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	switch cfg.TransportDriver() {
	case "smtp":
		if _, err := mapSMTPConfig(cfg); err != nil {
			errs = multierr.Append(errs, err)
		}
	case "telegram":
		if _, err := mapTelegramConfig(cfg); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Stop shuts components down in reverse start order. ctx bounds the whole
// shutdown; when it has no deadline the configured shutdown timeout applies.
// Messages still queued when the dispatcher stops are logged and dropped.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := sdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.shutdownTimeout.Load()))
		defer cancel()
	}

	var errs error
	step := func(name string, fn func(context.Context) error) {
		start := time.Now()
		if err := fn(ctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("http", func(c context.Context) error { a.http.Stop(c); return nil })
	step("housekeeping", func(c context.Context) error { a.house.Stop(c); return nil })
	step("dispatch", func(c context.Context) error {
		err := a.disp.Stop(c)
		if snap := a.disp.Snapshot(); snap.QueueLength > 0 {
			a.log.Warn("undelivered messages discarded at shutdown", logx.Int("count", snap.QueueLength))
		}
		return err
	})
	step("supervisor", func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped", logx.Bool("clean", errs == nil))
	if a.logs != nil {
		errs = multierr.Append(errs, a.logs.Close())
	}
	return errs
}
