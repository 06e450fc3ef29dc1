// Package models defines the data structures shared across every layer of the
// link diagnostics engine. A diagnostic run creates these values fresh and
// discards them once the verdict is returned; nothing here is cached between
// requests. This package depends on no other internal package.
package models

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Hops
// ─────────────────────────────────────────────────────────────────────────────

// HopLabel names one of the three network elements between the NOC and the
// subscriber.
type HopLabel int

const (
	ClientRadio HopLabel = iota
	BaseRadio
	Gateway
)

// HopOrder is the canonical reporting order: client toward gateway.
var HopOrder = [3]HopLabel{ClientRadio, BaseRadio, Gateway}

// String returns a human-readable label.
func (l HopLabel) String() string {
	switch l {
	case ClientRadio:
		return "Client Radio"
	case BaseRadio:
		return "Base Radio"
	case Gateway:
		return "Gateway"
	default:
		return "Unknown"
	}
}

// Key returns the short wire key used in the topology object.
func (l HopLabel) Key() string {
	switch l {
	case ClientRadio:
		return "client"
	case BaseRadio:
		return "base"
	case Gateway:
		return "gw"
	default:
		return "unknown"
	}
}

// TelemetrySpec tells the sampler which counters to read from a hop and how to
// authenticate. A spec with no SignalOIDs disables signal sampling.
type TelemetrySpec struct {
	// Profile is the radio profile matched from the declared model.
	Profile RadioProfile

	// Community is the SNMP community string for this device.
	Community string
}

// HopTarget is one addressable element of the three-hop chain.
type HopTarget struct {
	Label     HopLabel
	Address   Address
	Telemetry TelemetrySpec
}

// ─────────────────────────────────────────────────────────────────────────────
// Reachability
// ─────────────────────────────────────────────────────────────────────────────

// ProbeStatus is the terminal outcome of one reachability probe.
type ProbeStatus string

const (
	ProbeUp       ProbeStatus = "UP"
	ProbeDown     ProbeStatus = "DOWN"
	ProbeUnstable ProbeStatus = "UNSTABLE"
	ProbeSkipped  ProbeStatus = "SKIPPED"
	ProbeInvalid  ProbeStatus = "INVALID"
	ProbeError    ProbeStatus = "ERROR"
	ProbeTimeout  ProbeStatus = "TIMEOUT"
)

// ProbeResult is produced once per probe call and never modified afterwards.
// PacketLossPercent and AverageLatencyMs are nil when unknown.
type ProbeResult struct {
	Status            ProbeStatus `json:"status"`
	PacketLossPercent *float64    `json:"loss"`
	AverageLatencyMs  *float64    `json:"latency"`
	SamplesSent       int         `json:"samples_sent"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Signal
// ─────────────────────────────────────────────────────────────────────────────

// StabilityGrade classifies how consistent the signal was across the sampling
// window.
type StabilityGrade string

const (
	GradeStable   StabilityGrade = "STABLE"
	GradeJittery  StabilityGrade = "JITTERY"
	GradeUnstable StabilityGrade = "UNSTABLE"
	GradeOffline  StabilityGrade = "OFFLINE"
	GradeUnknown  StabilityGrade = "UNKNOWN"
)

// SignalNotAvailable is the display value when no sample could be read.
const SignalNotAvailable = "not available"

// SignalReading is the reduced form of a sample window plus the one-shot LAN
// speed reading. Display is what operators see: an average, an average with a
// ± band, or a min~max range depending on Grade.
type SignalReading struct {
	Grade        StabilityGrade `json:"grade"`
	Display      string         `json:"signal"`
	AverageDbm   *float64       `json:"average_dbm,omitempty"`
	MinDbm       *float64       `json:"min_dbm,omitempty"`
	MaxDbm       *float64       `json:"max_dbm,omitempty"`
	Samples      int            `json:"samples"`
	LanSpeedMbps *float64       `json:"lan_speed_mbps,omitempty"`
}

// WeakSignalDbm is the level below which a reachable radio is flagged as
// weak. It does not change the diagnosis code.
const WeakSignalDbm = -75.0

// Weak reports whether the averaged signal is below WeakSignalDbm. A nil
// reading or one without an average is not weak.
func (r *SignalReading) Weak() bool {
	return r != nil && r.AverageDbm != nil && *r.AverageDbm < WeakSignalDbm
}

// ─────────────────────────────────────────────────────────────────────────────
// Hop health and diagnosis
// ─────────────────────────────────────────────────────────────────────────────

// HopHealth combines the probe outcome and (when reachable) the signal reading
// for one hop.
type HopHealth struct {
	Target HopTarget
	Probe  ProbeResult
	Signal *SignalReading
}

// Up reports whether the hop answered every echo of its reachability probe
// (or, under the lenient loss policy, any of them).
func (h HopHealth) Up() bool { return h.Probe.Status == ProbeUp }

// Answered reports whether the device replied at all. UNSTABLE hops lost some
// echoes but are still there.
func (h HopHealth) Answered() bool {
	return h.Probe.Status == ProbeUp || h.Probe.Status == ProbeUnstable
}

// Grade returns the signal grade, or GradeUnknown when no reading exists.
func (h HopHealth) Grade() StabilityGrade {
	if h.Signal == nil {
		return GradeUnknown
	}
	return h.Signal.Grade
}

// DiagnosisCode is the final verdict.
type DiagnosisCode int

const (
	CodeUnknown DiagnosisCode = iota
	CodeLinkUp
	CodeUnstable
	CodeClientDown
	CodeSectorDown
	CodePopIssue
)

// String returns the wire form used in final_status.
func (c DiagnosisCode) String() string {
	switch c {
	case CodeLinkUp:
		return "LINK UP"
	case CodeUnstable:
		return "UNSTABLE"
	case CodeClientDown:
		return "CLIENT DOWN"
	case CodeSectorDown:
		return "SECTOR DOWN"
	case CodePopIssue:
		return "POP ISSUE"
	default:
		return "UNKNOWN"
	}
}

// Diagnosis is the externally visible artifact of one run. Hops is a fixed
// array so it always holds exactly one entry per label, in HopOrder.
type Diagnosis struct {
	Code      DiagnosisCode
	Cause     string
	Hops      [3]HopHealth
	LinkID    string
	Client    Address
	StartedAt time.Time
	Duration  time.Duration
}

// Hop returns the health record for label.
func (d Diagnosis) Hop(label HopLabel) HopHealth {
	return d.Hops[label]
}
