package models

import "strings"

// Link is one inventory record: a subscriber's point-to-point radio link and
// the upstream elements it hangs off. Address fields keep the raw inventory
// text; they are classified with ParseAddress when the engine consumes them.
type Link struct {
	ID         string `json:"link_id" yaml:"-"`
	Name       string `json:"name,omitempty" yaml:"name"`
	POP        string `json:"pop,omitempty" yaml:"pop"`
	Location   string `json:"location,omitempty" yaml:"location"`
	ClientIP   string `json:"client_ip" yaml:"client_ip"`
	BaseIP     string `json:"base_ip,omitempty" yaml:"base_ip"`
	GatewayIP  string `json:"gateway_ip,omitempty" yaml:"gateway_ip"`
	RadioModel string `json:"radio_model,omitempty" yaml:"radio_model"`
	BaseModel  string `json:"base_model,omitempty" yaml:"base_model"`
	Vendor     string `json:"vendor,omitempty" yaml:"vendor"`
	SSID       string `json:"ssid,omitempty" yaml:"ssid"`
	Frequency  string `json:"frequency,omitempty" yaml:"frequency"`
	Community  string `json:"-" yaml:"snmp_community"`
	Active     *bool  `json:"active,omitempty" yaml:"active"`
}

// IsActive reports whether the link takes part in sweeps. Links are active
// unless explicitly disabled.
func (l Link) IsActive() bool {
	return l.Active == nil || *l.Active
}

// DeclaredModel returns the most specific model string the inventory has for
// the client radio, falling back to the vendor.
func (l Link) DeclaredModel() string {
	if m := strings.TrimSpace(l.RadioModel); m != "" {
		return m
	}
	return strings.TrimSpace(l.Vendor)
}

// LanSpeedUnit is the unit the LAN speed counter reports in.
type LanSpeedUnit string

const (
	UnitBitsPerSecond LanSpeedUnit = "bps"
	UnitMegabits      LanSpeedUnit = "mbps"
)

// RadioProfile describes where a radio family exposes its signal counters.
type RadioProfile struct {
	// Name is the profile key, e.g. "cambium_epmp".
	Name string

	// Match lists case-insensitive substrings of the declared radio model that
	// select this profile, e.g. ["cambium", "epmp"].
	Match []string

	// SignalOIDs are the received-signal counters. Two entries mean two radio
	// chains whose readings are averaged.
	SignalOIDs []string

	// SignalDivisor converts the raw counter to dB (10 for tenths of dB).
	SignalDivisor float64

	// LanSpeedOID is read once per evaluation. Empty disables it.
	LanSpeedOID string

	// LanSpeedUnit is the unit of LanSpeedOID.
	LanSpeedUnit LanSpeedUnit
}

// Matches reports whether model selects this profile.
func (p RadioProfile) Matches(model string) bool {
	m := strings.ToLower(model)
	if m == "" {
		return false
	}
	for _, s := range p.Match {
		if s != "" && strings.Contains(m, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// HasSignal reports whether the profile names any signal counter.
func (p RadioProfile) HasSignal() bool { return len(p.SignalOIDs) > 0 }
