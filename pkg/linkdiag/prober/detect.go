package prober

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/net/icmp"
)

// ErrNoBackend is returned by the placeholder backend used when no ping
// mechanism is available on the host.
var ErrNoBackend = errors.New("prober: no ping backend available")

// Backend names accepted by Detect.
const (
	BackendAuto = "auto"
	BackendExec = "exec"
	BackendICMP = "icmp"
)

// Hooks for tests.
var (
	lookPath     = exec.LookPath
	icmpUsable   = canListenICMP
	isPrivileged = func() bool { return os.Geteuid() == 0 }
)

// Detect picks a backend by name. "auto" prefers the system ping utility,
// then native ICMP sockets, and finally a backend that reports every probe
// as ERROR. Only an unknown name is an error; a host without any usable
// mechanism still gets a working Prober.
func Detect(backend string, logger *slog.Logger) (Pinger, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendExec:
		if _, err := lookPath("ping"); err != nil {
			logger.Warn("prober: ping utility not found, probes will report ERROR", "error", err.Error())
		}
		return NewExecPinger(nil), nil
	case BackendICMP:
		return NewICMPPinger(isPrivileged()), nil
	case "", BackendAuto:
		if _, err := lookPath("ping"); err == nil {
			logger.Info("prober: using system ping utility")
			return NewExecPinger(nil), nil
		}
		priv := isPrivileged()
		if icmpUsable(priv) {
			p := NewICMPPinger(priv)
			logger.Info("prober: using native ICMP sockets", "backend", p.Name())
			return p, nil
		}
		logger.Warn("prober: no ping backend available, probes will report ERROR")
		return Unavailable("no ping utility and ICMP sockets are not permitted"), nil
	default:
		return nil, fmt.Errorf("prober: unknown backend %q (expected auto|exec|icmp)", backend)
	}
}

func canListenICMP(privileged bool) bool {
	network := "udp4"
	if privileged {
		network = "ip4:icmp"
	}
	c, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Unavailable returns a backend whose every Ping fails with ErrNoBackend.
func Unavailable(reason string) Pinger { return unavailable{reason: reason} }

type unavailable struct{ reason string }

func (u unavailable) Name() string { return "unavailable" }

func (u unavailable) Ping(context.Context, netip.Addr, PingOptions) (PingStats, error) {
	return PingStats{}, fmt.Errorf("%w: %s", ErrNoBackend, u.reason)
}
