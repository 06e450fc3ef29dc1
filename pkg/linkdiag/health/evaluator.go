// Package health combines the reachability probe and the signal sampler into
// one HopHealth per hop.
package health

import (
	"context"
	"net/netip"

	"github.com/shsakib0002/smart-noc/models"
)

// ReachabilityProber is satisfied by *prober.Prober.
type ReachabilityProber interface {
	Probe(ctx context.Context, addr models.Address) models.ProbeResult
}

// SignalSampler is satisfied by *sampler.Sampler.
type SignalSampler interface {
	Sample(ctx context.Context, ip netip.Addr, spec models.TelemetrySpec) models.SignalReading
}

// Evaluator probes a hop and, only when it answered, samples its signal. A
// hop with partial loss answered and is sampled too.
type Evaluator struct {
	prober  ReachabilityProber
	sampler SignalSampler
}

// NewEvaluator wires a prober and a sampler. A nil sampler disables signal
// sampling; reachable hops then grade UNKNOWN.
func NewEvaluator(p ReachabilityProber, s SignalSampler) *Evaluator {
	return &Evaluator{prober: p, sampler: s}
}

// Evaluate returns the health record for target. It never fails.
func (e *Evaluator) Evaluate(ctx context.Context, target models.HopTarget) models.HopHealth {
	h := models.HopHealth{
		Target: target,
		Probe:  e.prober.Probe(ctx, target.Address),
	}

	if !h.Answered() {
		h.Signal = OfflineReading(h.Probe.Status)
		return h
	}

	if e.sampler == nil {
		r := models.SignalReading{Grade: models.GradeUnknown, Display: models.SignalNotAvailable}
		h.Signal = &r
		return h
	}
	r := e.sampler.Sample(ctx, target.Address.IP(), target.Telemetry)
	h.Signal = &r
	return h
}

// OfflineReading is the signal reading for a hop that did not answer. Measured
// failures grade OFFLINE; hops that were never probed grade UNKNOWN.
func OfflineReading(status models.ProbeStatus) *models.SignalReading {
	grade := models.GradeOffline
	if status == models.ProbeSkipped || status == models.ProbeInvalid {
		grade = models.GradeUnknown
	}
	return &models.SignalReading{Grade: grade, Display: models.SignalNotAvailable}
}
