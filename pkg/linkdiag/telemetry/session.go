// Package telemetry reads radio counters over SNMP. It turns a device address
// and community into live gosnmp sessions, keeps a small per-device pool of
// them, and serves the sampler's integer Get requests.
package telemetry

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session configuration
// ─────────────────────────────────────────────────────────────────────────────

// V3Credentials holds USM settings for SNMPv3 devices.
type V3Credentials struct {
	Username                 string
	AuthenticationProtocol   string
	AuthenticationPassphrase string
	PrivacyProtocol          string
	PrivacyPassphrase        string
}

// SessionConfig is everything needed to open a session to one radio.
type SessionConfig struct {
	Address   netip.Addr
	Port      uint16
	Version   string // "1", "2c" or "3"
	Community string
	V3        V3Credentials
	Timeout   time.Duration
	Retries   int

	// MaxConcurrent caps in-flight requests to this device (default 2).
	MaxConcurrent int
}

// Key identifies the pool a session belongs to. Sessions are only reused for
// the same address, port and credentials.
func (c SessionConfig) Key() string {
	cred := c.Community
	if c.Version == "3" {
		cred = c.V3.Username
	}
	return c.Version + "|" + cred + "@" + netipPort(c.Address, c.Port)
}

func netipPort(a netip.Addr, port uint16) string {
	return netip.AddrPortFrom(a, port).String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Session factory: SessionConfig → *gosnmp.GoSNMP
// ─────────────────────────────────────────────────────────────────────────────

// NewSession creates and connects a gosnmp session. The caller closes it.
func NewSession(cfg SessionConfig) (*gosnmp.GoSNMP, error) {
	if !cfg.Address.IsValid() {
		return nil, fmt.Errorf("telemetry: session needs a valid address")
	}
	port := cfg.Port
	if port == 0 {
		port = 161
	}
	g := &gosnmp.GoSNMP{
		Target:  cfg.Address.String(),
		Port:    port,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
		MaxOids: 60,
	}
	if g.Timeout <= 0 {
		g.Timeout = 2 * time.Second
	}

	switch cfg.Version {
	case "1":
		g.Version = gosnmp.Version1
		g.Community = cfg.Community
	case "", "2c":
		g.Version = gosnmp.Version2c
		g.Community = cfg.Community
	case "3":
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		g.SecurityParameters, g.MsgFlags = usm(cfg.V3)
	default:
		return nil, fmt.Errorf("telemetry: unsupported SNMP version %q", cfg.Version)
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", netipPort(cfg.Address, port), err)
	}
	return g, nil
}

// ParseVersion normalises the configured SNMP version to "1", "2c" or "3".
func ParseVersion(s string) (string, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	switch v {
	case "", "2", "2c":
		return "2c", nil
	case "1", "3":
		return v, nil
	default:
		return "", fmt.Errorf("telemetry: unsupported SNMP version %q", s)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SNMPv3 helpers
// ─────────────────────────────────────────────────────────────────────────────

var authProtocols = map[string]gosnmp.SnmpV3AuthProtocol{
	"md5":    gosnmp.MD5,
	"sha":    gosnmp.SHA,
	"sha224": gosnmp.SHA224,
	"sha256": gosnmp.SHA256,
	"sha384": gosnmp.SHA384,
	"sha512": gosnmp.SHA512,
}

var privProtocols = map[string]gosnmp.SnmpV3PrivProtocol{
	"des":    gosnmp.DES,
	"aes":    gosnmp.AES,
	"aes192": gosnmp.AES192,
	"aes256": gosnmp.AES256,
}

// usm maps the credentials onto gosnmp's USM parameters and the matching
// message flags. Unknown protocol names disable that layer.
func usm(cred V3Credentials) (*gosnmp.UsmSecurityParameters, gosnmp.SnmpV3MsgFlags) {
	auth, hasAuth := authProtocols[strings.ToLower(cred.AuthenticationProtocol)]
	priv, hasPriv := privProtocols[strings.ToLower(cred.PrivacyProtocol)]
	if !hasAuth {
		auth, hasPriv = gosnmp.NoAuth, false
	}
	if !hasPriv {
		priv = gosnmp.NoPriv
	}

	flags := gosnmp.NoAuthNoPriv
	if hasAuth {
		flags = gosnmp.AuthNoPriv
	}
	if hasPriv {
		flags = gosnmp.AuthPriv
	}
	return &gosnmp.UsmSecurityParameters{
		UserName:                 cred.Username,
		AuthenticationProtocol:   auth,
		AuthenticationPassphrase: cred.AuthenticationPassphrase,
		PrivacyProtocol:          priv,
		PrivacyPassphrase:        cred.PrivacyPassphrase,
	}, flags
}
