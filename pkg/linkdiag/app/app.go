// Package app wires the link diagnostics components together and manages
// their lifecycle.
//
// Request path:
//
//	HTTP API → Engine → [client, base, gateway] Evaluator → Prober / Sampler → Localizer
//
// Sweep path (optional):
//
//	Scheduler → WorkerPool → Engine → Results → gauges + report log
//
// Trap path (optional):
//
//	linkDown/coldStart → traps.Receiver → WorkerPool (same as the sweep)
//
// All paths share one Engine, one SNMP session pool and one inventory store.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	jsonformat "github.com/shsakib0002/smart-noc/format/json"
	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/api"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/config"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/diagnose"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/health"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/inventory"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/observability"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/prober"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/sampler"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/sweep"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/telemetry"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/traps"
	filetransport "github.com/shsakib0002/smart-noc/transport/file"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the process-level settings. Engine tuning lives in the YAML
// defaults directory, not here.
type Config struct {
	// ConfigPaths are the YAML directories. Use config.PathsFromEnv().
	ConfigPaths config.Paths

	// Listen is the HTTP API address. Empty disables the API, as in one-shot
	// mode.
	Listen string

	// AllowOrigin is passed to the API as Access-Control-Allow-Origin.
	AllowOrigin string

	// ProbeBackend selects the ping mechanism: auto, exec or icmp.
	ProbeBackend string

	// Pinger overrides ProbeBackend when set.
	Pinger prober.Pinger

	// SweepInterval re-diagnoses every active link this often. Zero disables
	// the sweep.
	SweepInterval time.Duration

	// SweepWorkers is the number of concurrent sweep diagnoses. Default 4.
	SweepWorkers int

	// SweepOutput is the report log path; "-" writes to stdout and empty
	// disables the log.
	SweepOutput string

	// SweepFaults, when set with SweepOutput, additionally receives every
	// report whose verdict is not LINK UP.
	SweepFaults string

	// SweepMaxBytes rotates the report logs at this size. Zero disables
	// rotation.
	SweepMaxBytes int64

	// SweepMaxBackups is the number of rotated logs kept. Default 5.
	SweepMaxBackups int

	// TrapListen is the UDP address for radio notifications. Empty disables
	// trap-triggered diagnoses.
	TrapListen string

	// TrapCommunity restricts accepted notifications. Empty accepts any.
	TrapCommunity string

	// TrapCooldown is the minimum gap between trap-triggered diagnoses of one
	// link. Default 60s.
	TrapCooldown time.Duration

	// PrettyPrint indents the reports written by Diagnose callers.
	PrettyPrint bool

	// PoolOptions configures the SNMP session pool.
	PoolOptions telemetry.PoolOptions

	// Tracing configures OpenTelemetry. Use
	// observability.TracingConfigFromEnv().
	Tracing observability.TracingConfig

	// Registerer receives the metrics. nil creates a private registry with
	// the Go runtime and process collectors.
	Registerer prometheus.Registerer
}

func (c *Config) withDefaults() {
	if c.ProbeBackend == "" {
		c.ProbeBackend = prober.BackendAuto
	}
	if c.SweepWorkers <= 0 {
		c.SweepWorkers = 4
	}
	if c.SweepMaxBackups <= 0 {
		c.SweepMaxBackups = 5
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// App owns every long-lived component. Create one with New, start it with
// Start and stop it with Stop.
type App struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	loaded *config.LoadedConfig

	store     *inventory.Store
	pool      *telemetry.Pool
	engine    *diagnose.Engine
	collector *observability.Collector
	formatter *jsonformat.JSONFormatter
	server    *api.Server

	results   *sweep.Results
	sched     *sweep.Scheduler
	workers   *sweep.WorkerPool
	traps     *traps.Receiver
	sweepOut  *filetransport.Fanout
	tracingFn func(context.Context) error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an App. It does not start anything; call Start for that.
func New(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()
	return &App{cfg: cfg, logger: logger}
}

// Start loads configuration, builds the engine and launches the API and the
// sweep when they are enabled. On failure everything started so far is
// released.
func (a *App) Start(ctx context.Context) (err error) {
	// ── 1. Load configuration ───────────────────────────────────────────
	a.logger.Info("app: loading configuration")
	loaded, err := config.Load(a.cfg.ConfigPaths, a.logger)
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}
	a.loaded = loaded
	settings := loaded.Engine
	a.logger.Info("app: configuration loaded",
		"links", len(loaded.Links),
		"radio_profiles", len(loaded.Radios),
		"loss_policy", settings.LossPolicy.String(),
		"gateway_policy", settings.Gateway.Name(),
		"snmp_version", settings.SNMPVersion,
	)

	// ── 2. Observability ────────────────────────────────────────────────
	shutdown, err := observability.InitTracing(ctx, a.cfg.Tracing, a.logger)
	if err != nil {
		return fmt.Errorf("app: tracing: %w", err)
	}
	a.tracingFn = shutdown
	defer func() {
		if err != nil {
			a.abort()
		}
	}()

	reg := a.cfg.Registerer
	if reg == nil {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = r
	}
	a.collector, err = observability.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("app: metrics: %w", err)
	}

	// ── 3. Engine (leaves first) ────────────────────────────────────────
	pinger := a.cfg.Pinger
	if pinger == nil {
		pinger, err = prober.Detect(a.cfg.ProbeBackend, a.logger)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	prb := prober.New(prober.Config{
		Count:         settings.ProbeCount,
		SampleTimeout: settings.ProbeSampleTimeout,
		Timeout:       settings.ProbeTimeout,
		LossPolicy:    settings.LossPolicy,
	}, pinger, a.logger)

	a.pool = telemetry.NewPool(a.cfg.PoolOptions, a.logger)
	reader := telemetry.NewReader(a.pool, telemetry.SessionConfig{
		Port:          settings.SNMPPort,
		Version:       settings.SNMPVersion,
		Community:     settings.Community,
		V3:            settings.V3,
		Timeout:       settings.SNMPTimeout,
		Retries:       settings.SNMPRetries,
		MaxConcurrent: settings.MaxConcurrentPerDevice,
	}, a.logger)
	smp := sampler.New(sampler.Config{
		Samples: settings.TelemetrySamples,
		Delay:   settings.TelemetryDelay,
	}, reader, a.logger)

	a.store = inventory.NewStore(loaded.Links, loaded.Radios, a.logger)

	hopTimeout := settings.HopTimeout
	if hopTimeout <= 0 {
		hopTimeout = settings.HopBudget()
	}
	a.engine = diagnose.New(diagnose.Config{
		HopTimeout:       hopTimeout,
		DefaultCommunity: settings.Community,
		Gateway:          settings.Gateway,
	}, a.store, health.NewEvaluator(prb, smp), a.collector, a.logger)

	a.formatter = jsonformat.New(jsonformat.Config{PrettyPrint: a.cfg.PrettyPrint}, a.logger)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// ── 4. Sweep and traps ──────────────────────────────────────────────
	if err := a.startBackground(runCtx); err != nil {
		return err
	}

	// ── 5. API ──────────────────────────────────────────────────────────
	if a.cfg.Listen != "" {
		a.server = api.New(api.Config{
			Listen:      a.cfg.Listen,
			AllowOrigin: a.cfg.AllowOrigin,
		}, api.Options{
			Diagnoser: a.engine,
			Links:     a.store,
			Verdicts:  a.verdicts(),
			Recorder:  a.collector,
			Metrics:   a.collector.Handler(),
		}, a.logger)
		if err := a.server.Start(runCtx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	a.logger.Info("app: running",
		"probe_backend", pinger.Name(),
		"hop_timeout", hopTimeout.String(),
		"api", a.cfg.Listen != "",
		"sweep_interval", a.cfg.SweepInterval.String(),
		"traps", a.cfg.TrapListen != "",
	)
	return nil
}

// startBackground starts the worker pool shared by the sweep and the trap
// receiver, then whichever of the two is enabled.
func (a *App) startBackground(ctx context.Context) error {
	if a.cfg.SweepInterval <= 0 && a.cfg.TrapListen == "" {
		return nil
	}

	opts := sweep.ResultsOptions{Gauges: a.collector}
	if a.cfg.SweepOutput != "" {
		out, err := a.openSweepOutput()
		if err != nil {
			return err
		}
		a.sweepOut = out
		opts.Formatter = jsonformat.New(jsonformat.Config{}, a.logger)
		opts.Output = out
	}

	a.results = sweep.NewResults(opts, a.logger)
	a.workers = sweep.NewWorkerPool(a.cfg.SweepWorkers, a.engine, a.results, a.logger)
	a.workers.Start(ctx)

	if a.cfg.SweepInterval > 0 {
		a.sched = sweep.NewScheduler(a.cfg.SweepInterval, a.store, a.workers, a.collector, a.logger)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.sched.Start(ctx)
		}()
		a.logger.Info("app: sweep started",
			"links", a.sched.Entries(),
			"interval", a.cfg.SweepInterval.String(),
			"workers", a.cfg.SweepWorkers,
		)
	}

	if a.cfg.TrapListen != "" {
		a.traps = traps.New(traps.Config{
			ListenAddr: a.cfg.TrapListen,
			Community:  a.cfg.TrapCommunity,
			Cooldown:   a.cfg.TrapCooldown,
		}, a.store, a.workers, a.collector, a.logger)
		if err := a.traps.Start(ctx); err != nil {
			a.traps = nil
			return fmt.Errorf("app: %w", err)
		}
	}
	return nil
}

// openSweepOutput builds the report log transport: every report to
// SweepOutput, and faults also to SweepFaults when set.
func (a *App) openSweepOutput() (*filetransport.Fanout, error) {
	var routes []filetransport.Route
	open := func(path string, filter filetransport.Filter) error {
		if path == "-" {
			routes = append(routes, filetransport.Route{Writer: os.Stdout, Filter: filter})
			return nil
		}
		rf, err := filetransport.NewRotatingFile(filetransport.RotateConfig{
			Path:       path,
			MaxBytes:   a.cfg.SweepMaxBytes,
			MaxBackups: a.cfg.SweepMaxBackups,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("app: sweep output: %w", err)
		}
		routes = append(routes, filetransport.Route{Writer: rf, Filter: filter})
		return nil
	}

	if err := open(a.cfg.SweepOutput, nil); err != nil {
		return nil, err
	}
	if a.cfg.SweepFaults != "" {
		if err := open(a.cfg.SweepFaults, filetransport.Faults); err != nil {
			_ = filetransport.New(filetransport.Config{Routes: routes}, a.logger).Close()
			return nil, err
		}
	}
	return filetransport.New(filetransport.Config{Routes: routes}, a.logger), nil
}

// verdicts returns the sweep results as an api.Verdicts, or nil when the
// sweep is off. A nil *sweep.Results must not reach the interface.
func (a *App) verdicts() api.Verdicts {
	if a.results == nil {
		return nil
	}
	return a.results
}

// Stop performs a graceful shutdown.
//
// Shutdown order:
//  1. Stop accepting HTTP requests and let in-flight diagnoses finish.
//  2. Close the trap listener.
//  3. Cancel the run context and wait for the scheduler.
//  4. Drain the sweep workers.
//  5. Close the report log, the SNMP pool and the tracer provider.
func (a *App) Stop() {
	a.logger.Info("app: shutting down")

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Error("app: api shutdown error", "error", err.Error())
		}
		cancel()
	}
	if a.traps != nil {
		a.traps.Stop()
		a.traps = nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.stopBackground()

	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Error("app: snmp pool close error", "error", err.Error())
		}
	}
	observability.ShutdownWithTimeout(context.Background(), a.tracingFn, a.logger)

	a.logger.Info("app: shutdown complete")
}

// abort undoes a Start that failed part way: background work, the SNMP pool
// and the tracer provider.
func (a *App) abort() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.stopBackground()
	if a.pool != nil {
		_ = a.pool.Close()
	}
	observability.ShutdownWithTimeout(context.Background(), a.tracingFn, a.logger)
	a.tracingFn = nil
}

func (a *App) stopBackground() {
	if a.traps != nil {
		a.traps.Stop()
		a.traps = nil
	}
	if a.sched != nil {
		a.sched.Stop()
		a.sched = nil
	}
	if a.workers != nil {
		a.workers.Stop()
		a.workers = nil
	}
	a.wg.Wait()
	if a.sweepOut != nil {
		if err := a.sweepOut.Close(); err != nil {
			a.logger.Error("app: sweep output close error", "error", err.Error())
		}
		a.sweepOut = nil
	}
}

// Reload re-reads the YAML trees and swaps the inventory and radio profiles.
// New links are swept immediately and removed links stop. The report logs
// are reopened so external log rotation works with SIGHUP. Engine defaults
// only take effect after a restart.
func (a *App) Reload() error {
	a.logger.Info("app: reloading configuration")
	newCfg, err := config.Load(a.cfg.ConfigPaths, a.logger)
	if err != nil {
		return fmt.Errorf("app: reload config: %w", err)
	}

	a.mu.Lock()
	if newCfg.Engine != a.loaded.Engine {
		a.logger.Warn("app: engine defaults changed, restart to apply")
	}
	a.loaded = newCfg
	a.mu.Unlock()

	a.store.Replace(newCfg.Links, newCfg.Radios)
	if a.sweepOut != nil {
		if err := a.sweepOut.Reopen(); err != nil {
			a.logger.Error("app: reopen sweep output", "error", err.Error())
		}
	}
	if a.sched != nil {
		a.sched.Reload()
	}
	if a.results != nil {
		links := a.store.List()
		ids := make([]string, len(links))
		for i, l := range links {
			ids[i] = l.ID
		}
		a.results.Retain(ids)
	}

	a.logger.Info("app: configuration reloaded",
		"links", len(newCfg.Links),
		"radio_profiles", len(newCfg.Radios),
	)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// One-shot access
// ─────────────────────────────────────────────────────────────────────────────

// Diagnose runs one diagnosis for a client address and returns the report.
// Errors wrap diagnose.ErrBadRequest or diagnose.ErrNotFound.
func (a *App) Diagnose(ctx context.Context, ip string) (models.Report, error) {
	if a.engine == nil {
		return models.Report{}, fmt.Errorf("app: not started")
	}
	d, err := a.engine.Diagnose(ctx, ip)
	if err != nil {
		return models.Report{}, err
	}
	return models.NewReport(d), nil
}

// Format serialises a report with the configured pretty-print setting.
func (a *App) Format(report models.Report) ([]byte, error) {
	if a.formatter == nil {
		return nil, fmt.Errorf("app: not started")
	}
	return a.formatter.Format(&report)
}

// Addr returns the bound API address, or "" when the API is off.
func (a *App) Addr() string {
	if a.server == nil || a.server.Addr() == nil {
		return ""
	}
	return a.server.Addr().String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Utilities
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
