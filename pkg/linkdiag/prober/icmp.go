package prober

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protoICMP   = 1
	protoICMPv6 = 58
)

// ICMPPinger sends echo requests from the process itself. Privileged mode
// uses raw sockets; unprivileged mode uses datagram ICMP sockets, which Linux
// allows when net.ipv4.ping_group_range covers the process group.
type ICMPPinger struct {
	privileged bool
	id         int
	seq        atomic.Uint32
}

// NewICMPPinger returns a native ICMP backend.
func NewICMPPinger(privileged bool) *ICMPPinger {
	return &ICMPPinger{privileged: privileged, id: os.Getpid() & 0xffff}
}

// Name implements Pinger.
func (p *ICMPPinger) Name() string {
	if p.privileged {
		return "icmp-raw"
	}
	return "icmp-dgram"
}

func (p *ICMPPinger) network(ip netip.Addr) (network, listen string, proto int, req, reply icmp.Type) {
	if ip.Is4() {
		network = "udp4"
		if p.privileged {
			network = "ip4:icmp"
		}
		return network, "0.0.0.0", protoICMP, ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	}
	network = "udp6"
	if p.privileged {
		network = "ip6:ipv6-icmp"
	}
	return network, "::", protoICMPv6, ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
}

// Ping implements Pinger. Requests are sent one at a time; each waits up to
// opts.SampleTimeout for its reply.
func (p *ICMPPinger) Ping(ctx context.Context, ip netip.Addr, opts PingOptions) (PingStats, error) {
	network, listen, proto, reqType, replyType := p.network(ip)
	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return PingStats{}, fmt.Errorf("prober: listen %s: %w", network, err)
	}
	defer conn.Close()

	// Unblock any pending read as soon as ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	var dst net.Addr = &net.UDPAddr{IP: ip.AsSlice()}
	if p.privileged {
		dst = &net.IPAddr{IP: ip.AsSlice()}
	}

	var stats PingStats
	payload := []byte("linkdiag-probe")
	buf := make([]byte, 1500)
	for i := 0; i < opts.Count; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		seq := int(p.seq.Add(1) & 0xffff)
		msg := icmp.Message{
			Type: reqType,
			Body: &icmp.Echo{ID: p.id, Seq: seq, Data: payload},
		}
		wb, err := msg.Marshal(nil)
		if err != nil {
			return stats, fmt.Errorf("prober: marshal echo: %w", err)
		}

		start := time.Now()
		if _, err := conn.WriteTo(wb, dst); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, fmt.Errorf("prober: send echo to %s: %w", ip, err)
		}
		stats.Sent++

		if rtt, ok := p.awaitReply(ctx, conn, buf, proto, replyType, seq, start, opts.SampleTimeout); ok {
			stats.Received++
			stats.RTTs = append(stats.RTTs, rtt)
		}
	}
	return stats, nil
}

// awaitReply reads until the echo reply for seq arrives or the sample
// timeout measured from start passes.
func (p *ICMPPinger) awaitReply(ctx context.Context, conn *icmp.PacketConn, buf []byte, proto int, replyType icmp.Type, seq int, start time.Time, timeout time.Duration) (time.Duration, bool) {
	deadline := start.Add(timeout)
	for {
		if ctx.Err() != nil {
			return 0, false
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return 0, false
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, false
		}
		rm, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil || rm.Type != replyType {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// Datagram sockets rewrite the identifier, so only raw mode checks it.
		if p.privileged && echo.ID != p.id {
			continue
		}
		return time.Since(start), true
	}
}
