// Package sampler reads a radio's received-signal counters several times over
// a short window and grades how steady the signal was. It is only consulted
// for hops that already answered their reachability probe.
package sampler

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/shsakib0002/smart-noc/models"
)

// Target identifies the device a TelemetryReader talks to.
type Target struct {
	Address   netip.Addr
	Community string
}

// TelemetryReader fetches integer counters from a device. Counters the device
// does not have are omitted from the returned map rather than reported as
// errors.
type TelemetryReader interface {
	Read(ctx context.Context, target Target, oids []string) (map[string]int64, error)
}

// Config controls the sampling window. Zero fields fall back to defaults.
type Config struct {
	// Samples is the number of read rounds (default 3).
	Samples int

	// Delay is the pause between rounds (default 200ms).
	Delay time.Duration
}

func (c *Config) defaults() {
	if c.Samples <= 0 {
		c.Samples = 3
	}
	if c.Delay <= 0 {
		c.Delay = 200 * time.Millisecond
	}
}

// Sampler collects and grades signal samples. Safe for concurrent use.
type Sampler struct {
	cfg    Config
	reader TelemetryReader
	logger *slog.Logger
}

// New creates a Sampler reading through reader.
func New(cfg Config, reader TelemetryReader, logger *slog.Logger) *Sampler {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Sampler{cfg: cfg, reader: reader, logger: logger}
}

// Config returns the effective configuration.
func (s *Sampler) Config() Config { return s.cfg }

// Sample runs the sampling window against ip and returns the graded reading.
// Read failures are absorbed: failed rounds are dropped and an empty window
// grades UNKNOWN. A spec without signal counters returns UNKNOWN without any
// network I/O.
func (s *Sampler) Sample(ctx context.Context, ip netip.Addr, spec models.TelemetrySpec) models.SignalReading {
	prof := spec.Profile
	if !prof.HasSignal() || !ip.IsValid() || s.reader == nil {
		return Grade(nil)
	}
	target := Target{Address: ip, Community: spec.Community}

	window := make([]float64, 0, s.cfg.Samples)
	for i := 0; i < s.cfg.Samples; i++ {
		if i > 0 && !sleep(ctx, s.cfg.Delay) {
			break
		}
		vals, err := s.reader.Read(ctx, target, prof.SignalOIDs)
		if err != nil {
			s.logger.Debug("sampler: read failed",
				"address", ip.String(),
				"profile", prof.Name,
				"round", i+1,
				"error", err.Error(),
			)
			continue
		}
		if v, ok := combine(vals, prof); ok {
			window = append(window, v)
		}
	}

	reading := Grade(window)
	reading.LanSpeedMbps = s.lanSpeed(ctx, target, prof)

	s.logger.Debug("sampler: window graded",
		"address", ip.String(),
		"profile", prof.Name,
		"samples", reading.Samples,
		"grade", string(reading.Grade),
	)
	return reading
}

// combine averages the chains present in one round.
func combine(vals map[string]int64, prof models.RadioProfile) (float64, bool) {
	var sum float64
	var n int
	for _, oid := range prof.SignalOIDs {
		raw, ok := vals[oid]
		if !ok {
			continue
		}
		dbm, ok := ToDbm(raw, prof.SignalDivisor)
		if !ok {
			continue
		}
		sum += dbm
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// lanSpeed reads the LAN speed counter once. Nil means unknown.
func (s *Sampler) lanSpeed(ctx context.Context, target Target, prof models.RadioProfile) *float64 {
	if prof.LanSpeedOID == "" || ctx.Err() != nil {
		return nil
	}
	vals, err := s.reader.Read(ctx, target, []string{prof.LanSpeedOID})
	if err != nil {
		s.logger.Debug("sampler: lan speed read failed",
			"address", target.Address.String(),
			"error", err.Error(),
		)
		return nil
	}
	raw, ok := vals[prof.LanSpeedOID]
	if !ok || raw <= 0 {
		return nil
	}
	mbps := float64(raw)
	if prof.LanSpeedUnit != models.UnitMegabits {
		mbps /= 1e6
	}
	return &mbps
}

// sleep waits for d or until ctx ends; it reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
