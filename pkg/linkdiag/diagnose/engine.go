// Package diagnose runs the three hop evaluations of a link concurrently,
// puts their results in client → base → gateway order and hands them to the
// fault localizer.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/health"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/inventory"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/localizer"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/observability"
)

var (
	// ErrBadRequest is returned when the client address is missing or is not
	// an IP address.
	ErrBadRequest = errors.New("diagnose: bad request")

	// ErrNotFound is returned when no inventory link has the client address.
	ErrNotFound = errors.New("diagnose: client not in inventory")
)

// Inventory is the read-only view of the link store the engine needs.
// *inventory.Store satisfies it.
type Inventory interface {
	Lookup(ip netip.Addr) (models.Link, bool)
	Profile(model string) (models.RadioProfile, bool)
}

// HopEvaluator is satisfied by *health.Evaluator.
type HopEvaluator interface {
	Evaluate(ctx context.Context, target models.HopTarget) models.HopHealth
}

// Recorder receives per-diagnosis and per-hop observations.
// *observability.Collector satisfies it, including when nil.
type Recorder interface {
	ObserveDiagnosis(code models.DiagnosisCode, took time.Duration)
	ObserveHop(h models.HopHealth)
}

// Config is the immutable engine configuration.
type Config struct {
	// HopTimeout bounds one hop evaluation (default 15s). The whole diagnosis
	// is bounded by three times this value.
	HopTimeout time.Duration

	// DefaultCommunity is used for links without their own community.
	DefaultCommunity string

	// Gateway derives a gateway address when the inventory has none
	// (default inventory.PreviousAddress).
	Gateway inventory.GatewayPolicy
}

func (c *Config) defaults() {
	if c.HopTimeout <= 0 {
		c.HopTimeout = 15 * time.Second
	}
	if c.DefaultCommunity == "" {
		c.DefaultCommunity = "public"
	}
	if c.Gateway == nil {
		c.Gateway = inventory.PreviousAddress{}
	}
}

// Engine is safe for concurrent use; concurrent diagnoses share nothing but
// the read-only configuration and inventory.
type Engine struct {
	cfg       Config
	inventory Inventory
	evaluator HopEvaluator
	recorder  Recorder
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates an Engine. rec may be nil.
func New(cfg Config, inv Inventory, eval HopEvaluator, rec Recorder, logger *slog.Logger) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Engine{
		cfg:       cfg,
		inventory: inv,
		evaluator: eval,
		recorder:  rec,
		tracer:    otel.Tracer(observability.TracerName),
		logger:    logger,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Diagnose resolves raw against the inventory and diagnoses the link. It
// fails with ErrBadRequest or ErrNotFound before any probing starts.
func (e *Engine) Diagnose(ctx context.Context, raw string) (models.Diagnosis, error) {
	addr := models.ParseAddress(raw)
	switch {
	case addr.IsAbsent():
		return models.Diagnosis{}, fmt.Errorf("%w: missing client address", ErrBadRequest)
	case !addr.IsValid():
		return models.Diagnosis{}, fmt.Errorf("%w: %q is not an IP address", ErrBadRequest, raw)
	}

	link, ok := e.inventory.Lookup(addr.IP())
	if !ok {
		return models.Diagnosis{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return e.DiagnoseLink(ctx, link)
}

// DiagnoseLink diagnoses an inventory link directly, as the sweep does.
func (e *Engine) DiagnoseLink(ctx context.Context, link models.Link) (models.Diagnosis, error) {
	targets := e.Targets(link)
	client := targets[models.ClientRadio].Address
	if !client.IsValid() {
		return models.Diagnosis{}, fmt.Errorf("%w: link %s has no usable client address", ErrBadRequest, link.ID)
	}

	ctx, span := e.tracer.Start(ctx, "diagnose.link", trace.WithAttributes(
		attribute.String("link.id", link.ID),
		attribute.String("link.client_ip", client.String()),
	))
	defer span.End()

	started := time.Now()
	hops := e.run(ctx, targets)
	code, cause := localizer.Localize(hops)

	d := models.Diagnosis{
		Code:      code,
		Cause:     cause,
		Hops:      hops,
		LinkID:    link.ID,
		Client:    client,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	span.SetAttributes(attribute.String("diagnosis.code", code.String()))
	if code != models.CodeLinkUp {
		span.SetStatus(codes.Error, cause)
	}
	if e.recorder != nil {
		e.recorder.ObserveDiagnosis(code, d.Duration)
	}

	e.logger.Info("diagnose: verdict",
		"link_id", link.ID,
		"client_ip", client.String(),
		"final_status", code.String(),
		"cause", cause,
		"client", hops[models.ClientRadio].Probe.Status,
		"base", hops[models.BaseRadio].Probe.Status,
		"gw", hops[models.Gateway].Probe.Status,
		"duration_ms", d.Duration.Milliseconds(),
	)
	return d, nil
}

// Targets builds the three hop targets for link, deriving the gateway address
// through the configured policy when the inventory has none.
func (e *Engine) Targets(link models.Link) [3]models.HopTarget {
	community := link.Community
	if community == "" {
		community = e.cfg.DefaultCommunity
	}

	client := models.ParseAddress(link.ClientIP)
	base := models.ParseAddress(link.BaseIP)
	gw := models.ParseAddress(link.GatewayIP)
	if gw.IsAbsent() && base.IsValid() {
		if ip, ok := e.cfg.Gateway.Derive(base.IP()); ok {
			gw = models.AddressOf(ip)
		} else {
			e.logger.Debug("diagnose: gateway not derivable",
				"link_id", link.ID,
				"base_ip", base.String(),
				"policy", e.cfg.Gateway.Name(),
			)
		}
	}

	clientModel := link.DeclaredModel()
	baseModel := link.BaseModel
	if baseModel == "" {
		baseModel = clientModel
	}

	return [3]models.HopTarget{
		models.ClientRadio: {
			Label:     models.ClientRadio,
			Address:   client,
			Telemetry: models.TelemetrySpec{Profile: e.profile(clientModel), Community: community},
		},
		models.BaseRadio: {
			Label:     models.BaseRadio,
			Address:   base,
			Telemetry: models.TelemetrySpec{Profile: e.profile(baseModel), Community: community},
		},
		models.Gateway: {
			Label:     models.Gateway,
			Address:   gw,
			Telemetry: models.TelemetrySpec{Community: community},
		},
	}
}

func (e *Engine) profile(model string) models.RadioProfile {
	if model == "" {
		return models.RadioProfile{}
	}
	p, _ := e.inventory.Profile(model)
	return p
}

// run evaluates the three hops concurrently. Each goroutine owns one slot of
// the result array, so the order is canonical regardless of which hop
// finishes first.
func (e *Engine) run(ctx context.Context, targets [3]models.HopTarget) [3]models.HopHealth {
	ctx, cancel := context.WithTimeout(ctx, 3*e.cfg.HopTimeout)
	defer cancel()

	var hops [3]models.HopHealth
	var g errgroup.Group
	g.SetLimit(len(targets))
	for i, target := range targets {
		g.Go(func() error {
			hops[i] = e.evaluateHop(ctx, target)
			return nil
		})
	}
	_ = g.Wait()
	return hops
}

// evaluateHop runs one evaluation under its own deadline. An evaluator that
// overruns is abandoned and replaced by a TIMEOUT placeholder; one that
// panics becomes an ERROR placeholder.
func (e *Engine) evaluateHop(ctx context.Context, target models.HopTarget) models.HopHealth {
	ctx, span := e.tracer.Start(ctx, "diagnose.hop", trace.WithAttributes(
		attribute.String("hop", target.Label.Key()),
		attribute.String("hop.ip", target.Address.String()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.HopTimeout)
	defer cancel()

	done := make(chan models.HopHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("diagnose: hop evaluator panicked",
					"hop", target.Label.Key(),
					"ip", target.Address.String(),
					"panic", fmt.Sprint(r),
				)
				done <- placeholder(target, models.ProbeError)
			}
		}()
		done <- e.evaluator.Evaluate(ctx, target)
	}()

	var h models.HopHealth
	select {
	case h = <-done:
	case <-ctx.Done():
		e.logger.Warn("diagnose: hop evaluation timed out",
			"hop", target.Label.Key(),
			"ip", target.Address.String(),
			"timeout", e.cfg.HopTimeout,
		)
		h = placeholder(target, models.ProbeTimeout)
	}

	span.SetAttributes(
		attribute.String("probe.status", string(h.Probe.Status)),
		attribute.String("signal.grade", string(h.Grade())),
	)
	if e.recorder != nil {
		e.recorder.ObserveHop(h)
	}
	return h
}

func placeholder(target models.HopTarget, status models.ProbeStatus) models.HopHealth {
	return models.HopHealth{
		Target: target,
		Probe:  models.ProbeResult{Status: status},
		Signal: health.OfflineReading(status),
	}
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
