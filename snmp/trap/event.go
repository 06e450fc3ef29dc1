// Package trap reduces received SNMP trap and inform PDUs to the few fields
// the diagnostics service acts on: which device sent it and which
// notification it was. Socket handling lives in pkg/linkdiag/traps.
package trap

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/shsakib0002/smart-noc/snmp/decoder"
)

// snmpTrapOID.0 carries the notification OID in v2c/v3 PDUs.
const oidSnmpTrapOID = "1.3.6.1.6.3.1.1.4.1.0"

// Standard notifications (SNMPv2-MIB / IF-MIB), without the leading dot as
// decoder.NormaliseOID returns them.
const (
	OIDColdStart  = "1.3.6.1.6.3.1.1.5.1"
	OIDWarmStart  = "1.3.6.1.6.3.1.1.5.2"
	OIDLinkDown   = "1.3.6.1.6.3.1.1.5.3"
	OIDLinkUp     = "1.3.6.1.6.3.1.1.5.4"
	OIDAuthFailed = "1.3.6.1.6.3.1.1.5.5"
)

var names = map[string]string{
	OIDColdStart:  "coldStart",
	OIDWarmStart:  "warmStart",
	OIDLinkDown:   "linkDown",
	OIDLinkUp:     "linkUp",
	OIDAuthFailed: "authenticationFailure",
}

// Name returns the short name of a standard notification, or the OID itself.
func Name(oid string) string {
	if n, ok := names[oid]; ok {
		return n
	}
	return oid
}

// Event is one received notification.
type Event struct {
	Source     netip.Addr
	Version    string // "1", "2c" or "3"
	TrapOID    string
	ReceivedAt time.Time
}

// Name returns the notification's short name.
func (e Event) Name() string { return Name(e.TrapOID) }

// Parse extracts an Event from a packet delivered by gosnmp's TrapListener.
// For v1 the PDU's agent address wins over the UDP source, since traps are
// often relayed.
func Parse(pkt *gosnmp.SnmpPacket, remote *net.UDPAddr) (Event, error) {
	if pkt == nil {
		return Event{}, fmt.Errorf("trap: nil packet")
	}
	ev := Event{ReceivedAt: time.Now().UTC()}
	if remote != nil {
		if a, ok := netip.AddrFromSlice(remote.IP); ok {
			ev.Source = a.Unmap()
		}
	}

	switch pkt.Version {
	case gosnmp.Version1:
		ev.Version = "1"
		if a, err := netip.ParseAddr(pkt.AgentAddress); err == nil && !a.IsUnspecified() {
			ev.Source = a.Unmap()
		}
		ev.TrapOID = v1TrapOID(pkt)
	case gosnmp.Version2c, gosnmp.Version3:
		ev.Version = "2c"
		if pkt.Version == gosnmp.Version3 {
			ev.Version = "3"
		}
		for _, v := range pkt.Variables {
			if decoder.NormaliseOID(v.Name) == oidSnmpTrapOID {
				ev.TrapOID = decoder.NormaliseOID(fmt.Sprintf("%v", v.Value))
				break
			}
		}
	default:
		return ev, fmt.Errorf("trap: unsupported SNMP version %v", pkt.Version)
	}

	if !ev.Source.IsValid() {
		return ev, fmt.Errorf("trap: no source address")
	}
	return ev, nil
}

// v1TrapOID maps generic 0-5 to the standard OIDs and enterprise-specific
// traps to <enterprise>.0.<specific> (RFC 3584 §3.1).
func v1TrapOID(pkt *gosnmp.SnmpPacket) string {
	if pkt.GenericTrap >= 0 && pkt.GenericTrap < 6 {
		return fmt.Sprintf("1.3.6.1.6.3.1.1.5.%d", pkt.GenericTrap+1)
	}
	return fmt.Sprintf("%s.0.%d", decoder.NormaliseOID(pkt.Enterprise), pkt.SpecificTrap)
}
