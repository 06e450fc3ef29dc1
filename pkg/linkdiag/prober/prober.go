// Package prober implements the reachability stage of a diagnostic run. It
// turns an inventory address into one ProbeResult by sending a short burst of
// echo requests through a pluggable Pinger backend, and it guarantees that the
// call returns within a hard deadline whatever the backend does.
package prober

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/shsakib0002/smart-noc/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Backend contract
// ─────────────────────────────────────────────────────────────────────────────

// PingOptions bounds a single Ping call.
type PingOptions struct {
	// Count is the number of echo requests to send.
	Count int

	// SampleTimeout is how long to wait for each reply.
	SampleTimeout time.Duration
}

// PingStats is what a backend observed. Received counts replies that carried
// a round-trip time; RTTs holds one entry per such reply.
type PingStats struct {
	Sent     int
	Received int
	RTTs     []time.Duration
}

// Pinger is the capability the prober needs from the platform. Implementations
// must be safe for concurrent calls with different addresses.
type Pinger interface {
	Ping(ctx context.Context, ip netip.Addr, opts PingOptions) (PingStats, error)
	Name() string
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// LossPolicy decides how partial packet loss maps to a status.
type LossPolicy int

const (
	// LossPolicyLenient reports any answered probe as UP; the signal sampler is
	// left to flag instability.
	LossPolicyLenient LossPolicy = iota

	// LossPolicyStrict reports 0% < loss < 100% as UNSTABLE.
	LossPolicyStrict
)

// ParseLossPolicy maps a config string to a LossPolicy. Empty means lenient.
func ParseLossPolicy(s string) (LossPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return LossPolicyLenient, nil
	case "strict":
		return LossPolicyStrict, nil
	default:
		return LossPolicyLenient, fmt.Errorf("prober: unknown loss policy %q (expected lenient|strict)", s)
	}
}

func (p LossPolicy) String() string {
	if p == LossPolicyStrict {
		return "strict"
	}
	return "lenient"
}

// Config controls Prober behaviour. Zero fields fall back to defaults.
type Config struct {
	// Count is the number of echo requests per probe (default 4).
	Count int

	// SampleTimeout bounds each echo request (default 1s).
	SampleTimeout time.Duration

	// Timeout is the hard ceiling for the whole probe (default 10s).
	Timeout time.Duration

	// LossPolicy decides partial-loss classification (default lenient).
	LossPolicy LossPolicy
}

func (c *Config) defaults() {
	if c.Count <= 0 {
		c.Count = 4
	}
	if c.SampleTimeout <= 0 {
		c.SampleTimeout = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Prober
// ─────────────────────────────────────────────────────────────────────────────

// Prober measures reachability of one address at a time. It holds no mutable
// state and is safe for concurrent use.
type Prober struct {
	cfg    Config
	pinger Pinger
	logger *slog.Logger
}

// New creates a Prober backed by pinger.
func New(cfg Config, pinger Pinger, logger *slog.Logger) *Prober {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if pinger == nil {
		pinger = Unavailable("no ping backend configured")
	}
	return &Prober{cfg: cfg, pinger: pinger, logger: logger}
}

// Config returns the effective configuration.
func (p *Prober) Config() Config { return p.cfg }

type pingOutcome struct {
	stats PingStats
	err   error
}

// Probe sends Count echo requests to addr and classifies the outcome.
//
// Absent and malformed addresses return SKIPPED / INVALID without touching the
// backend. Backend failures map to ERROR and an exhausted deadline maps to
// TIMEOUT; Probe itself never fails.
func (p *Prober) Probe(ctx context.Context, addr models.Address) models.ProbeResult {
	switch addr.State() {
	case models.AddressAbsent:
		return models.ProbeResult{Status: models.ProbeSkipped}
	case models.AddressMalformed:
		return models.ProbeResult{Status: models.ProbeInvalid}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	opts := PingOptions{Count: p.cfg.Count, SampleTimeout: p.cfg.SampleTimeout}
	done := make(chan pingOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- pingOutcome{err: fmt.Errorf("prober: backend panic: %v", r)}
			}
		}()
		stats, err := p.pinger.Ping(ctx, addr.IP(), opts)
		done <- pingOutcome{stats: stats, err: err}
	}()

	var out pingOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		p.logger.Debug("prober: deadline exceeded",
			"address", addr.String(),
			"backend", p.pinger.Name(),
		)
		return models.ProbeResult{Status: models.ProbeTimeout, SamplesSent: opts.Count}
	}

	if out.err != nil {
		if ctx.Err() != nil || errors.Is(out.err, context.DeadlineExceeded) {
			return models.ProbeResult{Status: models.ProbeTimeout, SamplesSent: out.stats.Sent}
		}
		p.logger.Warn("prober: backend failed",
			"address", addr.String(),
			"backend", p.pinger.Name(),
			"error", out.err.Error(),
		)
		return models.ProbeResult{Status: models.ProbeError, SamplesSent: out.stats.Sent}
	}

	res := Classify(out.stats, p.cfg.LossPolicy)
	p.logger.Debug("prober: probe completed",
		"address", addr.String(),
		"backend", p.pinger.Name(),
		"status", string(res.Status),
		"sent", res.SamplesSent,
	)
	return res
}

// Classify reduces backend stats to a ProbeResult under policy. A backend that
// sent nothing yields ERROR.
func Classify(stats PingStats, policy LossPolicy) models.ProbeResult {
	if stats.Sent <= 0 {
		return models.ProbeResult{Status: models.ProbeError}
	}
	received := stats.Received
	if received > stats.Sent {
		received = stats.Sent
	}
	if received < 0 {
		received = 0
	}

	loss := float64(stats.Sent-received) / float64(stats.Sent) * 100
	res := models.ProbeResult{
		PacketLossPercent: &loss,
		SamplesSent:       stats.Sent,
	}

	if len(stats.RTTs) > 0 && received > 0 {
		var sum time.Duration
		for _, rtt := range stats.RTTs {
			sum += rtt
		}
		avg := float64(sum) / float64(len(stats.RTTs)) / float64(time.Millisecond)
		res.AverageLatencyMs = &avg
	}

	switch {
	case received == 0:
		res.Status = models.ProbeDown
	case received == stats.Sent:
		res.Status = models.ProbeUp
	case policy == LossPolicyStrict:
		res.Status = models.ProbeUnstable
	default:
		res.Status = models.ProbeUp
	}
	return res
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
