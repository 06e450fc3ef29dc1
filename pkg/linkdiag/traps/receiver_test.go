package traps_test

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/inventory"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/sweep"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/traps"
	"github.com/shsakib0002/smart-noc/snmp/trap"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type mockPool struct {
	mu   sync.Mutex
	jobs []sweep.Job
	full bool
}

func (p *mockPool) TrySubmit(j sweep.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.jobs = append(p.jobs, j)
	return true
}

func (p *mockPool) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.jobs))
	for i, j := range p.jobs {
		out[i] = j.Link.ID
	}
	return out
}

type actionRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *actionRecorder) ObserveTrap(name, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[name+"/"+action]++
}

func (r *actionRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

// sector has one base radio (10.20.30.2) serving two clients.
func sector() *inventory.Store {
	return inventory.NewStore(map[string]models.Link{
		"dhk-101": {ClientIP: "10.20.30.41", BaseIP: "10.20.30.2"},
		"dhk-102": {ClientIP: "10.20.30.42", BaseIP: "10.20.30.2"},
		"ctg-7":   {ClientIP: "10.40.0.10", BaseIP: "10.40.0.2"},
	}, nil, nil)
}

func event(src, oid string) trap.Event {
	return trap.Event{Source: netip.MustParseAddr(src), Version: "2c", TrapOID: oid, ReceivedAt: time.Now()}
}

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// ─────────────────────────────────────────────────────────────────────────────
// Handle
// ─────────────────────────────────────────────────────────────────────────────

func TestHandle(t *testing.T) {
	tests := []struct {
		name       string
		ev         trap.Event
		wantQueued []string
		wantKey    string
	}{
		{"client linkDown", event("10.20.30.41", trap.OIDLinkDown), []string{"dhk-101"}, "linkDown/queued"},
		{"base coldStart fans out", event("10.20.30.2", trap.OIDColdStart), []string{"dhk-101", "dhk-102"}, "coldStart/queued"},
		{"auth failure ignored", event("10.20.30.41", trap.OIDAuthFailed), nil, "authenticationFailure/ignored"},
		{"unknown sender", event("192.0.2.9", trap.OIDLinkUp), nil, "linkUp/unknown_source"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pool := &mockPool{}
			rec := &actionRecorder{}
			r := traps.New(traps.Config{}, sector(), pool, rec, nil)

			n := r.Handle(tc.ev)
			if n != len(tc.wantQueued) {
				t.Errorf("queued = %d, want %d", n, len(tc.wantQueued))
			}
			got := pool.ids()
			if fmt.Sprint(got) != fmt.Sprint(tc.wantQueued) {
				t.Errorf("jobs = %v, want %v", got, tc.wantQueued)
			}
			if rec.get(tc.wantKey) == 0 {
				t.Errorf("recorder missing %q", tc.wantKey)
			}
		})
	}
}

func TestHandle_Cooldown(t *testing.T) {
	pool := &mockPool{}
	rec := &actionRecorder{}
	r := traps.New(traps.Config{Cooldown: time.Hour}, sector(), pool, rec, nil)

	r.Handle(event("10.20.30.41", trap.OIDLinkDown))
	// The base trap covers dhk-101 again and dhk-102 for the first time.
	if n := r.Handle(event("10.20.30.2", trap.OIDLinkDown)); n != 1 {
		t.Errorf("second trap queued %d, want 1", n)
	}
	if got := fmt.Sprint(pool.ids()); got != "[dhk-101 dhk-102]" {
		t.Errorf("jobs = %s", got)
	}
	if rec.get("linkDown/cooldown") != 1 {
		t.Errorf("cooldown count = %d, want 1", rec.get("linkDown/cooldown"))
	}
}

func TestHandle_CooldownExpires(t *testing.T) {
	pool := &mockPool{}
	r := traps.New(traps.Config{Cooldown: 20 * time.Millisecond}, sector(), pool, nil, nil)

	r.Handle(event("10.40.0.10", trap.OIDLinkDown))
	time.Sleep(40 * time.Millisecond)
	if n := r.Handle(event("10.40.0.10", trap.OIDLinkUp)); n != 1 {
		t.Errorf("queued after cooldown = %d, want 1", n)
	}
}

func TestHandle_QueueFull(t *testing.T) {
	pool := &mockPool{full: true}
	rec := &actionRecorder{}
	r := traps.New(traps.Config{Cooldown: time.Hour}, sector(), pool, rec, nil)

	if n := r.Handle(event("10.40.0.10", trap.OIDLinkDown)); n != 0 {
		t.Errorf("queued = %d, want 0", n)
	}
	if rec.get("linkDown/dropped") != 1 {
		t.Errorf("dropped count = %d, want 1", rec.get("linkDown/dropped"))
	}

	// A dropped job must not start a cooldown.
	pool.mu.Lock()
	pool.full = false
	pool.mu.Unlock()
	if n := r.Handle(event("10.40.0.10", trap.OIDLinkDown)); n != 1 {
		t.Errorf("retry queued = %d, want 1", n)
	}
}

func TestHandle_CustomTriggers(t *testing.T) {
	const vendorAlarm = "1.3.6.1.4.1.17713.0.12"
	pool := &mockPool{}
	r := traps.New(traps.Config{TriggerOIDs: []string{vendorAlarm}}, sector(), pool, nil, nil)

	if n := r.Handle(event("10.40.0.10", trap.OIDLinkDown)); n != 0 {
		t.Errorf("linkDown queued %d with custom triggers", n)
	}
	if n := r.Handle(event("10.40.0.10", vendorAlarm)); n != 1 {
		t.Errorf("vendor alarm queued %d, want 1", n)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestStartStop(t *testing.T) {
	cfg := traps.Config{ListenAddr: fmt.Sprintf("127.0.0.1:%d", freePort(t))}
	r := traps.New(cfg, sector(), &mockPool{}, nil, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	r.Stop()
	r.Stop()
}

func TestStart_BadAddr(t *testing.T) {
	r := traps.New(traps.Config{ListenAddr: "256.0.0.1:99999"}, sector(), &mockPool{}, nil, nil)
	if err := r.Start(context.Background()); err == nil {
		r.Stop()
		t.Fatal("expected bind error")
	}
}

func TestRealUDP_LinkDownQueuesDiagnosis(t *testing.T) {
	port := freePort(t)
	pool := &mockPool{}
	store := inventory.NewStore(map[string]models.Link{
		"lo-1": {ClientIP: "127.0.0.1", BaseIP: "127.0.0.2"},
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := traps.New(traps.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		Community:  "public",
	}, store, pool, nil, nil)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	sender := &gosnmp.GoSNMP{
		Target:    "127.0.0.1",
		Port:      uint16(port),
		Version:   gosnmp.Version2c,
		Community: "public",
		Timeout:   2 * time.Second,
	}
	if err := sender.Connect(); err != nil {
		t.Fatalf("sender.Connect: %v", err)
	}
	defer sender.Conn.Close()

	_, err := sender.SendTrap(gosnmp.SnmpTrap{
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(12345)},
			{Name: ".1.3.6.1.6.3.1.1.4.1.0", Type: gosnmp.ObjectIdentifier, Value: "1.3.6.1.6.3.1.1.5.3"},
		},
	})
	if err != nil {
		t.Fatalf("SendTrap: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(pool.ids()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := fmt.Sprint(pool.ids()); got != "[lo-1]" {
		t.Errorf("jobs = %s, want [lo-1]", got)
	}
}
