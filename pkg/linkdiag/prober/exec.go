package prober

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSRunner runs commands with os/exec. The process is killed when ctx ends.
type OSRunner struct{}

// Output implements Runner.
func (OSRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// exitCoder is satisfied by *exec.ExitError.
type exitCoder interface {
	ExitCode() int
}

// ExecPinger shells out to the platform ping utility and parses its output.
type ExecPinger struct {
	runner Runner
	goos   string
}

// NewExecPinger returns a backend that runs the system ping through runner.
// A nil runner uses OSRunner.
func NewExecPinger(runner Runner) *ExecPinger {
	if runner == nil {
		runner = OSRunner{}
	}
	return &ExecPinger{runner: runner, goos: runtime.GOOS}
}

// Name implements Pinger.
func (p *ExecPinger) Name() string { return "exec" }

// Ping implements Pinger.
func (p *ExecPinger) Ping(ctx context.Context, ip netip.Addr, opts PingOptions) (PingStats, error) {
	bin, args := pingCommand(p.goos, ip, opts)
	out, err := p.runner.Output(ctx, bin, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PingStats{}, ctxErr
		}
		var ec exitCoder
		if !errors.As(err, &ec) {
			return PingStats{}, fmt.Errorf("prober: run %s: %w", bin, err)
		}
		// ping exits 1 when no reply arrived; anything else is a usage or
		// system failure.
		if ec.ExitCode() != 1 {
			return PingStats{}, fmt.Errorf("prober: %s exited with status %d: %s",
				bin, ec.ExitCode(), firstLine(out))
		}
	}

	stats := ParseOutput(out)
	if stats.Sent == 0 {
		stats.Sent = opts.Count
	}
	if stats.Received > stats.Sent {
		stats.Received = stats.Sent
	}
	return stats, nil
}

// pingCommand builds the command line for goos.
func pingCommand(goos string, ip netip.Addr, opts PingOptions) (string, []string) {
	count := strconv.Itoa(opts.Count)
	waitMs := opts.SampleTimeout.Milliseconds()
	if waitMs <= 0 {
		waitMs = 1000
	}
	target := ip.String()

	switch goos {
	case "windows":
		args := []string{"-n", count, "-w", strconv.FormatInt(waitMs, 10)}
		if ip.Is6() {
			args = append(args, "-6")
		}
		return "ping", append(args, target)
	case "darwin", "freebsd", "netbsd", "openbsd":
		if ip.Is6() {
			return "ping6", []string{"-n", "-c", count, target}
		}
		return "ping", []string{"-n", "-c", count, "-W", strconv.FormatInt(waitMs, 10), target}
	default:
		waitSec := (waitMs + 999) / 1000
		args := []string{"-n", "-c", count, "-W", strconv.FormatInt(waitSec, 10), "-i", "0.2"}
		if ip.Is6() {
			args = append(args, "-6")
		}
		return "ping", append(args, target)
	}
}

var (
	replyRe      = regexp.MustCompile(`(?i)time\s*[=<]\s*([\d.]+)\s*ms`)
	unixSumRe    = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
	windowsSumRe = regexp.MustCompile(`(?i)Sent = (\d+), Received = (\d+)`)
)

// ParseOutput extracts replies and counts from iputils, BSD, busybox or
// Windows ping output. Received is the number of replies that carried a
// round-trip time, so Windows "Destination host unreachable" lines, which the
// summary counts as received, do not count as answers.
func ParseOutput(out []byte) PingStats {
	var stats PingStats
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "DUP!") {
			continue
		}
		m := replyRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ms, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		stats.RTTs = append(stats.RTTs, time.Duration(math.Round(ms*1000))*time.Microsecond)
	}
	stats.Received = len(stats.RTTs)

	text := string(out)
	if m := unixSumRe.FindStringSubmatch(text); m != nil {
		stats.Sent, _ = strconv.Atoi(m[1])
	} else if m := windowsSumRe.FindStringSubmatch(text); m != nil {
		stats.Sent, _ = strconv.Atoi(m[1])
	}
	return stats
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
