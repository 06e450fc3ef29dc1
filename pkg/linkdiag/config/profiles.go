package config

import (
	"fmt"
	"strings"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/snmp/decoder"
)

// Well-known counters used by the built-in profiles.
const (
	CambiumSignalOID  = "1.3.6.1.4.1.17713.21.1.2.1.0"
	UbiquitiSignalOID = "1.3.6.1.4.1.41112.1.4.5.1.5.1"
	IfSpeedOID        = "1.3.6.1.2.1.2.2.1.5.1"
)

// BuiltinProfiles are used when no radio definitions load.
func BuiltinProfiles() []models.RadioProfile {
	return []models.RadioProfile{
		{
			Name:          "cambium_epmp",
			Match:         []string{"cambium", "epmp"},
			SignalOIDs:    []string{CambiumSignalOID},
			SignalDivisor: 10,
			LanSpeedOID:   IfSpeedOID,
			LanSpeedUnit:  models.UnitBitsPerSecond,
		},
		{
			Name:          "ubiquiti",
			Match:         []string{"ubiquiti", "powerbeam", "nano"},
			SignalOIDs:    []string{UbiquitiSignalOID},
			SignalDivisor: 10,
			LanSpeedOID:   IfSpeedOID,
			LanSpeedUnit:  models.UnitBitsPerSecond,
		},
	}
}

// rawRadioFile is the top-level map: profile name → profile body.
type rawRadioFile map[string]rawRadioBody

type rawRadioBody struct {
	Match         []string `yaml:"match"`
	SignalOIDs    []string `yaml:"signal_oids"`
	SignalDivisor float64  `yaml:"signal_divisor"`
	LanSpeedOID   string   `yaml:"lan_speed_oid"`
	LanSpeedUnit  string   `yaml:"lan_speed_unit"`
}

func convertProfile(name string, b rawRadioBody) (models.RadioProfile, error) {
	p := models.RadioProfile{
		Name:          name,
		SignalDivisor: b.SignalDivisor,
		LanSpeedOID:   decoder.NormaliseOID(b.LanSpeedOID),
	}
	for _, m := range b.Match {
		if m = strings.TrimSpace(m); m != "" {
			p.Match = append(p.Match, m)
		}
	}
	if len(p.Match) == 0 {
		p.Match = []string{name}
	}
	for _, oid := range b.SignalOIDs {
		if oid = decoder.NormaliseOID(oid); oid != "" {
			p.SignalOIDs = append(p.SignalOIDs, oid)
		}
	}
	if p.SignalDivisor < 0 {
		return p, fmt.Errorf("radio %q: signal_divisor must be positive", name)
	}
	if p.SignalDivisor == 0 {
		p.SignalDivisor = 10
	}

	switch strings.ToLower(strings.TrimSpace(b.LanSpeedUnit)) {
	case "", "bps":
		p.LanSpeedUnit = models.UnitBitsPerSecond
	case "mbps":
		p.LanSpeedUnit = models.UnitMegabits
	default:
		return p, fmt.Errorf("radio %q: unknown lan_speed_unit %q (expected bps|mbps)", name, b.LanSpeedUnit)
	}

	if len(p.SignalOIDs) == 0 && p.LanSpeedOID == "" {
		return p, fmt.Errorf("radio %q: defines no counters", name)
	}
	return p, nil
}
