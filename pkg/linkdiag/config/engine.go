package config

import (
	"time"

	"github.com/shsakib0002/smart-noc/pkg/linkdiag/inventory"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/prober"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/telemetry"
)

// EngineSettings is the fully-resolved engine configuration. Durations are
// read from the YAML as milliseconds; zero-valued fields are filled with
// hard-coded fallbacks during resolution.
type EngineSettings struct {
	// ProbeCount is the number of echo requests per probe (default 4).
	ProbeCount int

	// ProbeSampleTimeout is the wait for each echo reply (default 1000ms).
	ProbeSampleTimeout time.Duration

	// ProbeTimeout is the hard bound on a whole probe (default 10000ms).
	ProbeTimeout time.Duration

	// LossPolicy maps partial packet loss to a status (default lenient).
	LossPolicy prober.LossPolicy

	// TelemetrySamples is the number of signal read rounds (default 3).
	TelemetrySamples int

	// TelemetryDelay is the pause between rounds (default 200ms).
	TelemetryDelay time.Duration

	// SNMPTimeout is the per-request timeout (default 2000ms).
	SNMPTimeout time.Duration

	// SNMPRetries is the retry count after a timeout (default 1).
	SNMPRetries int

	// SNMPPort is the agent UDP port (default 161).
	SNMPPort uint16

	// SNMPVersion is "1", "2c" or "3" (default "2c").
	SNMPVersion string

	// Community is used for links without their own (default "public").
	Community string

	// V3 is used when SNMPVersion is "3".
	V3 telemetry.V3Credentials

	// MaxConcurrentPerDevice limits in-flight SNMP requests to one radio
	// (default 2).
	MaxConcurrentPerDevice int

	// Gateway derives missing gateway addresses (default previous).
	Gateway inventory.GatewayPolicy

	// HopTimeout bounds one hop evaluation. Zero means HopBudget.
	HopTimeout time.Duration
}

// HopBudget returns HopTimeout, or when unset the worst case of one probe
// plus a full sampling window and the LAN speed read, with a second of slack.
func (s EngineSettings) HopBudget() time.Duration {
	if s.HopTimeout > 0 {
		return s.HopTimeout
	}
	perRead := s.SNMPTimeout * time.Duration(s.SNMPRetries+1)
	window := time.Duration(s.TelemetrySamples)*perRead +
		time.Duration(max(s.TelemetrySamples-1, 0))*s.TelemetryDelay
	return s.ProbeTimeout + window + perRead + time.Second
}

// rawDefaults is the YAML shape of a defaults file.
type rawDefaults struct {
	Default rawEngineEntry `yaml:"default"`
}

type rawEngineEntry struct {
	ProbeCount             int              `yaml:"probe_count"`
	ProbeSampleTimeout     int              `yaml:"probe_sample_timeout"`
	ProbeTimeout           int              `yaml:"probe_timeout"`
	LossPolicy             string           `yaml:"loss_policy"`
	TelemetrySamples       int              `yaml:"telemetry_samples"`
	TelemetryDelay         int              `yaml:"telemetry_delay"`
	SNMPTimeout            int              `yaml:"snmp_timeout"`
	SNMPRetries            *int             `yaml:"snmp_retries"`
	SNMPPort               int              `yaml:"snmp_port"`
	SNMPVersion            string           `yaml:"snmp_version"`
	Community              string           `yaml:"snmp_community"`
	V3                     *rawV3Credential `yaml:"snmp_v3"`
	MaxConcurrentPerDevice int              `yaml:"max_concurrent_per_device"`
	GatewayPolicy          string           `yaml:"gateway_policy"`
	HopTimeout             int              `yaml:"hop_timeout"`
}

type rawV3Credential struct {
	Username                 string `yaml:"username"`
	AuthenticationProtocol   string `yaml:"authentication_protocol"`
	AuthenticationPassphrase string `yaml:"authentication_passphrase"`
	PrivacyProtocol          string `yaml:"privacy_protocol"`
	PrivacyPassphrase        string `yaml:"privacy_passphrase"`
}

// mergeEngine fills zero fields in dst with values from src, so the first file
// that sets a key wins.
func mergeEngine(dst, src rawEngineEntry) rawEngineEntry {
	if dst.ProbeCount == 0 {
		dst.ProbeCount = src.ProbeCount
	}
	if dst.ProbeSampleTimeout == 0 {
		dst.ProbeSampleTimeout = src.ProbeSampleTimeout
	}
	if dst.ProbeTimeout == 0 {
		dst.ProbeTimeout = src.ProbeTimeout
	}
	if dst.LossPolicy == "" {
		dst.LossPolicy = src.LossPolicy
	}
	if dst.TelemetrySamples == 0 {
		dst.TelemetrySamples = src.TelemetrySamples
	}
	if dst.TelemetryDelay == 0 {
		dst.TelemetryDelay = src.TelemetryDelay
	}
	if dst.SNMPTimeout == 0 {
		dst.SNMPTimeout = src.SNMPTimeout
	}
	if dst.SNMPRetries == nil {
		dst.SNMPRetries = src.SNMPRetries
	}
	if dst.SNMPPort == 0 {
		dst.SNMPPort = src.SNMPPort
	}
	if dst.SNMPVersion == "" {
		dst.SNMPVersion = src.SNMPVersion
	}
	if dst.Community == "" {
		dst.Community = src.Community
	}
	if dst.V3 == nil {
		dst.V3 = src.V3
	}
	if dst.MaxConcurrentPerDevice == 0 {
		dst.MaxConcurrentPerDevice = src.MaxConcurrentPerDevice
	}
	if dst.GatewayPolicy == "" {
		dst.GatewayPolicy = src.GatewayPolicy
	}
	if dst.HopTimeout == 0 {
		dst.HopTimeout = src.HopTimeout
	}
	return dst
}

// resolveEngine applies fallbacks and parses the enumerated fields.
func resolveEngine(e rawEngineEntry) (EngineSettings, []string) {
	var errs []string

	policy, err := prober.ParseLossPolicy(e.LossPolicy)
	if err != nil {
		errs = append(errs, err.Error())
	}
	gateway, err := inventory.ParseGatewayPolicy(e.GatewayPolicy)
	if err != nil {
		errs = append(errs, err.Error())
		gateway = inventory.PreviousAddress{}
	}
	version, err := telemetry.ParseVersion(e.SNMPVersion)
	if err != nil {
		errs = append(errs, err.Error())
		version = "2c"
	}
	if e.SNMPPort < 0 || e.SNMPPort > 65535 {
		errs = append(errs, "snmp_port out of range")
		e.SNMPPort = 0
	}

	retries := 1
	if e.SNMPRetries != nil && *e.SNMPRetries >= 0 {
		retries = *e.SNMPRetries
	}

	s := EngineSettings{
		ProbeCount:             intOr(e.ProbeCount, 4),
		ProbeSampleTimeout:     msOr(e.ProbeSampleTimeout, 1000),
		ProbeTimeout:           msOr(e.ProbeTimeout, 10000),
		LossPolicy:             policy,
		TelemetrySamples:       intOr(e.TelemetrySamples, 3),
		TelemetryDelay:         msOr(e.TelemetryDelay, 200),
		SNMPTimeout:            msOr(e.SNMPTimeout, 2000),
		SNMPRetries:            retries,
		SNMPPort:               uint16(intOr(e.SNMPPort, 161)),
		SNMPVersion:            version,
		Community:              e.Community,
		MaxConcurrentPerDevice: intOr(e.MaxConcurrentPerDevice, 2),
		Gateway:                gateway,
	}
	if s.Community == "" {
		s.Community = "public"
	}
	if e.HopTimeout > 0 {
		s.HopTimeout = time.Duration(e.HopTimeout) * time.Millisecond
	}
	if e.V3 != nil {
		s.V3 = telemetry.V3Credentials{
			Username:                 e.V3.Username,
			AuthenticationProtocol:   e.V3.AuthenticationProtocol,
			AuthenticationPassphrase: e.V3.AuthenticationPassphrase,
			PrivacyProtocol:          e.V3.PrivacyProtocol,
			PrivacyPassphrase:        e.V3.PrivacyPassphrase,
		}
	}
	if version == "3" && s.V3.Username == "" {
		errs = append(errs, "snmp_version 3 requires snmp_v3.username")
	}
	return s, errs
}

func intOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func msOr(v, def int) time.Duration {
	return time.Duration(intOr(v, def)) * time.Millisecond
}
