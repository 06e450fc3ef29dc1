// Command linkdiag is the point-to-point link diagnostics service.
//
// It loads the link inventory, radio profiles and engine defaults from YAML
// directories named by environment variables (or command-line flags), then
// either serves the HTTP API, with the optional sweep and trap receiver,
// until interrupted or, with -diagnose, runs one diagnosis and prints the
// report.
//
// Usage:
//
//	linkdiag [flags]
//	linkdiag -diagnose 10.20.30.41 -format.pretty
//
// SIGHUP reloads the inventory and radio profiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shsakib0002/smart-noc/pkg/linkdiag/app"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/config"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/diagnose"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/observability"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/telemetry"
	filetransport "github.com/shsakib0002/smart-noc/transport/file"
)

// Exit codes for -diagnose mode.
const (
	exitOK         = 0
	exitFailure    = 1
	exitBadRequest = 2
	exitNotFound   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Flags ────────────────────────────────────────────────────────────
	var (
		logLevel    string
		logFmt      string
		listen      string
		allowOrigin string
		backend     string
		pretty      bool
		oneShot     string

		sweepInterval   time.Duration
		sweepWorkers    int
		sweepOutput     string
		sweepFaults     string
		sweepMaxBytes   int64
		sweepMaxBackups int

		trapListen    string
		trapCommunity string
		trapCooldown  time.Duration

		poolMaxIdle int
		poolIdleSec int

		cfgLinks    string
		cfgRadios   string
		cfgDefaults string
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")
	flag.StringVar(&listen, "listen", ":8080", "HTTP API listen address")
	flag.StringVar(&allowOrigin, "api.allow.origin", "", "Access-Control-Allow-Origin for the API (empty = none)")
	flag.StringVar(&backend, "probe.backend", "auto", "Ping backend: auto, exec, icmp")
	flag.BoolVar(&pretty, "format.pretty", false, "Pretty-print the -diagnose report")
	flag.StringVar(&oneShot, "diagnose", "", "Diagnose one client IP, print the report and exit")

	flag.DurationVar(&sweepInterval, "sweep.interval", 0, "Re-diagnose every active link at this interval (0 = off)")
	flag.IntVar(&sweepWorkers, "sweep.workers", 4, "Concurrent sweep diagnoses")
	flag.StringVar(&sweepOutput, "sweep.output", "", "Sweep report log path (- = stdout, empty = off)")
	flag.StringVar(&sweepFaults, "sweep.faults", "", "Additional log for reports other than LINK UP")
	flag.Int64Var(&sweepMaxBytes, "sweep.output.max.bytes", 0, "Rotate sweep logs at this size in bytes (0 = never)")
	flag.IntVar(&sweepMaxBackups, "sweep.output.max.backups", 5, "Rotated sweep logs to keep")

	flag.StringVar(&trapListen, "trap.listen", "", "UDP address for radio traps that trigger a diagnosis (empty = off)")
	flag.StringVar(&trapCommunity, "trap.community", "", "Community accepted on v1/v2c traps (empty = any)")
	flag.DurationVar(&trapCooldown, "trap.cooldown", time.Minute, "Minimum gap between trap-triggered diagnoses of one link")

	flag.IntVar(&poolMaxIdle, "snmp.pool.max.idle", 1, "Max idle SNMP sessions per radio")
	flag.IntVar(&poolIdleSec, "snmp.pool.idle.timeout", 30, "Idle SNMP session timeout in seconds")

	flag.StringVar(&cfgLinks, "config.links", "", "Override LINKDIAG_LINK_DEFINITIONS_DIRECTORY_PATH")
	flag.StringVar(&cfgRadios, "config.radios", "", "Override LINKDIAG_RADIO_DEFINITIONS_DIRECTORY_PATH")
	flag.StringVar(&cfgDefaults, "config.defaults", "", "Override LINKDIAG_DEFAULTS_DIRECTORY_PATH")

	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────────
	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkdiag: %v\n", err)
		return exitFailure
	}

	// ── Config paths ─────────────────────────────────────────────────────
	paths := config.PathsFromEnv()
	applyPathOverrides(&paths, cfgLinks, cfgRadios, cfgDefaults)

	cfg := app.Config{
		ConfigPaths:     paths,
		Listen:          listen,
		AllowOrigin:     allowOrigin,
		ProbeBackend:    backend,
		SweepInterval:   sweepInterval,
		SweepWorkers:    sweepWorkers,
		SweepOutput:     sweepOutput,
		SweepFaults:     sweepFaults,
		SweepMaxBytes:   sweepMaxBytes,
		SweepMaxBackups: sweepMaxBackups,
		TrapListen:      trapListen,
		TrapCommunity:   trapCommunity,
		TrapCooldown:    trapCooldown,
		PrettyPrint:     pretty,
		PoolOptions: telemetry.PoolOptions{
			MaxIdlePerDevice: poolMaxIdle,
			IdleTimeout:      time.Duration(poolIdleSec) * time.Second,
		},
		Tracing: observability.TracingConfigFromEnv(),
	}

	if oneShot != "" {
		return diagnoseOnce(cfg, oneShot, logger)
	}
	if err := serve(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "linkdiag: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// serve runs the API, the sweep and the trap receiver until SIGINT or SIGTERM. SIGHUP reloads.
func serve(cfg app.Config, logger *slog.Logger) error {
	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger.Info("linkdiag: running", "addr", application.Addr())
	for {
		select {
		case <-ctx.Done():
			logger.Info("linkdiag: received shutdown signal")
			application.Stop()
			return nil
		case <-hup:
			if err := application.Reload(); err != nil {
				logger.Error("linkdiag: reload failed, keeping previous inventory", "error", err.Error())
			}
		}
	}
}

// diagnoseOnce prints one report to stdout. The exit code tells scripts
// whether the address was rejected or unknown.
func diagnoseOnce(cfg app.Config, ip string, logger *slog.Logger) int {
	cfg.Listen = ""
	cfg.SweepInterval = 0
	cfg.TrapListen = ""
	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "linkdiag: start: %v\n", err)
		return exitFailure
	}
	defer application.Stop()

	report, err := application.Diagnose(ctx, ip)
	switch {
	case errors.Is(err, diagnose.ErrBadRequest):
		fmt.Fprintf(os.Stderr, "linkdiag: %v\n", err)
		return exitBadRequest
	case errors.Is(err, diagnose.ErrNotFound):
		fmt.Fprintf(os.Stderr, "linkdiag: %v\n", err)
		return exitNotFound
	case err != nil:
		fmt.Fprintf(os.Stderr, "linkdiag: %v\n", err)
		return exitFailure
	}

	data, err := application.Format(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkdiag: %v\n", err)
		return exitFailure
	}
	out := filetransport.New(filetransport.Config{Routes: []filetransport.Route{{Writer: os.Stdout}}}, logger)
	defer out.Close()
	if err := out.Send(data); err != nil {
		fmt.Fprintf(os.Stderr, "linkdiag: write report: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}
}

func applyPathOverrides(p *config.Paths, links, radios, defaults string) {
	if links != "" {
		p.Links = links
	}
	if radios != "" {
		p.Radios = radios
	}
	if defaults != "" {
		p.Defaults = defaults
	}
}
