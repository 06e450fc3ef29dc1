package models

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Address: an address-or-absent value validated once at the boundary
// ─────────────────────────────────────────────────────────────────────────────

// AddressState classifies the raw inventory string behind an Address.
type AddressState uint8

const (
	// AddressAbsent means no address was configured. This is an expected
	// state (e.g. a link without a recorded gateway), not an error.
	AddressAbsent AddressState = iota

	// AddressValid means the raw value parsed as an IPv4 or IPv6 literal.
	AddressValid

	// AddressMalformed means a value was present but is not an IP literal.
	AddressMalformed
)

// placeholders are inventory spellings that mean "no address".
var placeholders = map[string]bool{
	"":     true,
	"n/a":  true,
	"na":   true,
	"none": true,
	"nan":  true,
	"null": true,
	"-":    true,
	"--":   true,
}

// Address is an optional network address. The zero value is absent.
type Address struct {
	raw   string
	ip    netip.Addr
	state AddressState
}

// ParseAddress classifies raw. Surrounding whitespace is ignored; placeholder
// spellings ("N/A", "None", "nan", …) are absent; anything that is not a
// zone-free IP literal is malformed.
func ParseAddress(raw string) Address {
	s := strings.TrimSpace(raw)
	if placeholders[strings.ToLower(s)] {
		return Address{raw: s}
	}
	ip, err := netip.ParseAddr(s)
	if err != nil || ip.Zone() != "" {
		return Address{raw: s, state: AddressMalformed}
	}
	return AddressOf(ip)
}

// AddressOf wraps an already-parsed IP. An invalid netip.Addr yields an
// absent Address.
func AddressOf(ip netip.Addr) Address {
	if !ip.IsValid() {
		return Address{}
	}
	ip = ip.Unmap()
	return Address{raw: ip.String(), ip: ip, state: AddressValid}
}

// State reports how the address was classified.
func (a Address) State() AddressState { return a.state }

// IsAbsent reports whether no address is configured.
func (a Address) IsAbsent() bool { return a.state == AddressAbsent }

// IsValid reports whether the address holds a usable IP.
func (a Address) IsValid() bool { return a.state == AddressValid }

// IP returns the parsed IP. It is the zero netip.Addr unless IsValid.
func (a Address) IP() netip.Addr { return a.ip }

// String returns the canonical IP for valid addresses, the original text for
// malformed ones, and "" for absent ones.
func (a Address) String() string {
	if a.state == AddressAbsent {
		return ""
	}
	return a.raw
}

// MarshalJSON encodes the address as a string, or null when absent.
func (a Address) MarshalJSON() ([]byte, error) {
	if a.state == AddressAbsent {
		return []byte("null"), nil
	}
	return json.Marshal(a.raw)
}

// UnmarshalJSON accepts what MarshalJSON produces: null decodes as absent and
// a string is classified by ParseAddress.
func (a *Address) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = Address{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("models: address: %w", err)
	}
	*a = ParseAddress(s)
	return nil
}
