package models

import "time"

// Report is the JSON payload returned to API callers and written by the
// one-shot and sweep outputs.
//
//	{
//	  "final_status": "LINK UP",
//	  "cause": "Link Optimal.",
//	  "topology": {
//	    "client": {"ip": "…", "status": "UP", "loss": 0, "latency": 2.1, "signal": "-60.2 dBm", …},
//	    "base":   {…},
//	    "gw":     {…}
//	  }
//	}
type Report struct {
	FinalStatus string               `json:"final_status"`
	Cause       string               `json:"cause"`
	LinkID      string               `json:"link_id,omitempty"`
	ClientIP    Address              `json:"client_ip"`
	CheckedAt   time.Time            `json:"checked_at"`
	DurationMs  int64                `json:"duration_ms"`
	Topology    map[string]HopReport `json:"topology"`
}

// HopReport is the per-hop entry of Report.Topology.
type HopReport struct {
	Label        string         `json:"label"`
	IP           Address        `json:"ip"`
	Status       ProbeStatus    `json:"status"`
	Loss         *float64       `json:"loss"`
	Latency      *float64       `json:"latency"`
	Signal       string         `json:"signal"`
	Grade        StabilityGrade `json:"grade"`
	LanSpeedMbps *float64       `json:"lan_speed_mbps,omitempty"`
	WeakSignal   bool           `json:"weak_signal,omitempty"`
}

// NewReport converts a Diagnosis into its wire form.
func NewReport(d Diagnosis) Report {
	topo := make(map[string]HopReport, len(d.Hops))
	for _, h := range d.Hops {
		hr := HopReport{
			Label:   h.Target.Label.String(),
			IP:      h.Target.Address,
			Status:  h.Probe.Status,
			Loss:    h.Probe.PacketLossPercent,
			Latency: h.Probe.AverageLatencyMs,
			Signal:  SignalNotAvailable,
			Grade:   h.Grade(),
		}
		if h.Signal != nil {
			hr.Signal = h.Signal.Display
			hr.LanSpeedMbps = h.Signal.LanSpeedMbps
			hr.WeakSignal = h.Signal.Weak()
		}
		topo[h.Target.Label.Key()] = hr
	}
	return Report{
		FinalStatus: d.Code.String(),
		Cause:       d.Cause,
		LinkID:      d.LinkID,
		ClientIP:    d.Client,
		CheckedAt:   d.StartedAt.UTC(),
		DurationMs:  d.Duration.Milliseconds(),
		Topology:    topo,
	}
}
