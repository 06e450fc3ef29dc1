package inventory

import (
	"fmt"
	"net/netip"
	"strings"
)

// GatewayPolicy derives a gateway address for links whose inventory record
// has none.
type GatewayPolicy interface {
	Derive(base netip.Addr) (netip.Addr, bool)
	Name() string
}

// PreviousAddress assumes the gateway sits one address below the base radio,
// which is how the sectors on our POPs are numbered. It refuses to cross to
// the network address of a /24.
type PreviousAddress struct{}

// Name implements GatewayPolicy.
func (PreviousAddress) Name() string { return "previous" }

// Derive implements GatewayPolicy.
func (PreviousAddress) Derive(base netip.Addr) (netip.Addr, bool) {
	if !base.IsValid() {
		return netip.Addr{}, false
	}
	base = base.Unmap()
	if base.Is4() && base.As4()[3] == 0 {
		return netip.Addr{}, false
	}
	prev := base.Prev()
	if !prev.IsValid() || prev.IsUnspecified() {
		return netip.Addr{}, false
	}
	if prev.Is4() && prev.As4()[3] == 0 {
		return netip.Addr{}, false
	}
	return prev, true
}

// NoDerivation never derives a gateway; links without one probe it as
// SKIPPED.
type NoDerivation struct{}

// Name implements GatewayPolicy.
func (NoDerivation) Name() string { return "none" }

// Derive implements GatewayPolicy.
func (NoDerivation) Derive(netip.Addr) (netip.Addr, bool) { return netip.Addr{}, false }

// ParseGatewayPolicy maps a config value to a policy. Empty means previous.
func ParseGatewayPolicy(s string) (GatewayPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "previous":
		return PreviousAddress{}, nil
	case "none":
		return NoDerivation{}, nil
	default:
		return nil, fmt.Errorf("inventory: unknown gateway policy %q (expected previous|none)", s)
	}
}
