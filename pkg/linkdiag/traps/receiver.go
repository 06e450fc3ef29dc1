// Package traps re-diagnoses links as soon as their radios report trouble.
//
// Radios push linkDown, linkUp and coldStart notifications when a link
// flaps or a unit reboots. The Receiver listens for them on UDP, maps the
// sender to the inventory links whose client or base radio it is, and queues
// those links on the sweep worker pool without waiting for the next sweep.
//
//	UDP :162 → gosnmp.TrapListener → trap.Parse → Receiver.Handle → sweep.WorkerPool
package traps

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/sweep"
	"github.com/shsakib0002/smart-noc/snmp/trap"
)

// Actions recorded per received notification.
const (
	ActionQueued        = "queued"
	ActionDropped       = "dropped"
	ActionCooldown      = "cooldown"
	ActionIgnored       = "ignored"
	ActionUnknownSource = "unknown_source"
)

// LinkResolver is satisfied by *inventory.Store.
type LinkResolver interface {
	ByDevice(ip netip.Addr) []models.Link
}

// Recorder is satisfied by *observability.Collector, including when nil.
type Recorder interface {
	ObserveTrap(trap, action string)
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the Receiver.
type Config struct {
	// ListenAddr is the UDP address to bind (default "0.0.0.0:162").
	ListenAddr string

	// Community restricts v1/v2c notifications. Empty accepts any.
	Community string

	// SNMPVersion the listener decodes (default v2c).
	SNMPVersion gosnmp.SnmpVersion

	// CloseTimeout bounds socket shutdown (default 3s).
	CloseTimeout time.Duration

	// Cooldown is the minimum time between trap-triggered diagnoses of the
	// same link (default 60s). A flapping radio sends bursts.
	Cooldown time.Duration

	// TriggerOIDs are the notifications that queue a diagnosis (default
	// coldStart, warmStart, linkDown, linkUp). Others are counted and ignored.
	TriggerOIDs []string

	// ParseFunc replaces trap.Parse. Used in tests.
	ParseFunc func(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) (trap.Event, error)
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:162"
	}
	if c.SNMPVersion == 0 {
		c.SNMPVersion = gosnmp.Version2c
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 3 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	if len(c.TriggerOIDs) == 0 {
		c.TriggerOIDs = []string{trap.OIDColdStart, trap.OIDWarmStart, trap.OIDLinkDown, trap.OIDLinkUp}
	}
	if c.ParseFunc == nil {
		c.ParseFunc = trap.Parse
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Receiver
// ─────────────────────────────────────────────────────────────────────────────

// Receiver turns notifications into queued diagnoses.
type Receiver struct {
	cfg      Config
	triggers map[string]bool
	links    LinkResolver
	pool     sweep.JobSubmitter
	rec      Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	listener *gosnmp.TrapListener
	lastRun  map[string]time.Time
	doneCh   chan struct{}
}

// New creates a Receiver. rec may be nil.
func New(cfg Config, links LinkResolver, pool sweep.JobSubmitter, rec Recorder, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	c := cfg.withDefaults()
	triggers := make(map[string]bool, len(c.TriggerOIDs))
	for _, oid := range c.TriggerOIDs {
		triggers[oid] = true
	}
	return &Receiver{
		cfg:      c,
		triggers: triggers,
		links:    links,
		pool:     pool,
		rec:      rec,
		logger:   logger,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}
}

// Start binds the UDP listener and returns once it is ready. It stops when
// ctx is cancelled or Stop is called.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("traps: already running")
	}
	tl := gosnmp.NewTrapListener()
	tl.Params = &gosnmp.GoSNMP{
		Version:   r.cfg.SNMPVersion,
		Community: r.cfg.Community,
		Logger:    gosnmp.NewLogger(slogAdapter{r.logger}),
	}
	tl.CloseTimeout = r.cfg.CloseTimeout
	tl.OnNewTrap = r.onTrap
	r.listener = tl
	r.running = true
	r.doneCh = make(chan struct{})
	done := r.doneCh
	r.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(done)
		errCh <- tl.Listen(r.cfg.ListenAddr)
	}()

	select {
	case <-tl.Listening():
		r.logger.Info("traps: listening", "addr", r.cfg.ListenAddr)
	case err := <-errCh:
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("traps: listen %s: %w", r.cfg.ListenAddr, err)
	case <-ctx.Done():
		r.Stop()
		return ctx.Err()
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-done:
		}
	}()
	return nil
}

// Stop closes the listener and waits for it to exit. Safe to call more than
// once.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	tl, done := r.listener, r.doneCh
	r.mu.Unlock()

	tl.Close()
	<-done
	r.logger.Info("traps: stopped")
}

func (r *Receiver) onTrap(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) {
	ev, err := r.cfg.ParseFunc(pkt, addr)
	if err != nil {
		r.logger.Warn("traps: parse error", "remote", addr.String(), "error", err.Error())
		return
	}
	r.Handle(ev)
}

// Handle queues a diagnosis for every link the sender belongs to and
// returns how many were queued. It never blocks.
func (r *Receiver) Handle(ev trap.Event) int {
	name := ev.Name()
	if !r.triggers[ev.TrapOID] {
		r.observe(name, ActionIgnored)
		r.logger.Debug("traps: notification ignored", "source", ev.Source.String(), "trap", name)
		return 0
	}

	links := r.links.ByDevice(ev.Source)
	if len(links) == 0 {
		r.observe(name, ActionUnknownSource)
		r.logger.Debug("traps: sender not in inventory", "source", ev.Source.String(), "trap", name)
		return 0
	}

	queued := 0
	now := r.now()
	for _, l := range links {
		if !r.claim(l.ID, now) {
			r.observe(name, ActionCooldown)
			continue
		}
		if !r.pool.TrySubmit(sweep.Job{Link: l}) {
			r.release(l.ID)
			r.observe(name, ActionDropped)
			r.logger.Warn("traps: job queue full, dropping diagnosis", "link_id", l.ID, "trap", name)
			continue
		}
		queued++
		r.observe(name, ActionQueued)
		r.logger.Info("traps: diagnosis queued",
			"link_id", l.ID,
			"source", ev.Source.String(),
			"trap", name,
		)
	}
	return queued
}

// claim reports whether link id is outside its cooldown and, if so, starts a
// new one.
func (r *Receiver) claim(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastRun[id]; ok && now.Sub(last) < r.cfg.Cooldown {
		return false
	}
	for k, t := range r.lastRun {
		if now.Sub(t) >= r.cfg.Cooldown {
			delete(r.lastRun, k)
		}
	}
	r.lastRun[id] = now
	return true
}

func (r *Receiver) release(id string) {
	r.mu.Lock()
	delete(r.lastRun, id)
	r.mu.Unlock()
}

func (r *Receiver) observe(name, action string) {
	if r.rec != nil {
		r.rec.ObserveTrap(name, action)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Utilities
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

// slogAdapter bridges slog to gosnmp's Printf-style Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Print(v ...interface{}) {
	a.l.Debug(fmt.Sprint(v...))
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.l.Debug(fmt.Sprintf(format, v...))
}
