package telemetry_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/telemetry"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func testSessionCfg() telemetry.SessionConfig {
	return telemetry.SessionConfig{
		Address:   netip.MustParseAddr("10.20.30.41"),
		Port:      161,
		Version:   "2c",
		Community: "public",
		Timeout:   500 * time.Millisecond,
	}
}

// fakeDialer returns sessions that never touch the network; Conn stays nil.
func fakeDialer(dials *atomic.Int32) func(telemetry.SessionConfig) (*gosnmp.GoSNMP, error) {
	return func(cfg telemetry.SessionConfig) (*gosnmp.GoSNMP, error) {
		if dials != nil {
			dials.Add(1)
		}
		return &gosnmp.GoSNMP{Target: cfg.Address.String(), Port: cfg.Port, Community: cfg.Community}, nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Session factory
// ─────────────────────────────────────────────────────────────────────────────

func TestNewSession_UnsupportedVersion(t *testing.T) {
	cfg := testSessionCfg()
	cfg.Version = "4"
	if _, err := telemetry.NewSession(cfg); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestNewSession_InvalidAddress(t *testing.T) {
	cfg := testSessionCfg()
	cfg.Address = netip.Addr{}
	if _, err := telemetry.NewSession(cfg); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "2c", false},
		{"2c", "2c", false},
		{"v2c", "2c", false},
		{"2", "2c", false},
		{"1", "1", false},
		{"V3", "3", false},
		{"4", "", true},
	}
	for _, tc := range tests {
		got, err := telemetry.ParseVersion(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseVersion(%q) = %q, %v; want %q, err=%v", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

func TestSessionConfig_KeySeparatesCredentials(t *testing.T) {
	a := testSessionCfg()
	b := testSessionCfg()
	b.Community = "private"
	if a.Key() == b.Key() {
		t.Errorf("keys should differ: %q", a.Key())
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Pool
// ─────────────────────────────────────────────────────────────────────────────

func TestPool_GetPutReuses(t *testing.T) {
	var dials atomic.Int32
	p := telemetry.NewPool(telemetry.PoolOptions{Dial: fakeDialer(&dials)}, nil)
	defer p.Close()

	ctx := context.Background()
	cfg := testSessionCfg()

	c1, err := p.Get(ctx, cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Put(cfg.Key(), c1)

	c2, err := p.Get(ctx, cfg)
	if err != nil {
		t.Fatalf("Get reuse: %v", err)
	}
	if c2 != c1 {
		t.Error("expected idle session to be reused")
	}
	p.Put(cfg.Key(), c2)

	if dials.Load() != 1 {
		t.Errorf("dialed %d times, want 1", dials.Load())
	}
}

func TestPool_MaxIdleEviction(t *testing.T) {
	p := telemetry.NewPool(telemetry.PoolOptions{MaxIdlePerDevice: 1, Dial: fakeDialer(nil)}, nil)
	defer p.Close()

	ctx := context.Background()
	cfg := testSessionCfg()

	c1, _ := p.Get(ctx, cfg)
	c2, _ := p.Get(ctx, cfg)
	p.Put(cfg.Key(), c1)
	p.Put(cfg.Key(), c2)

	got, _ := p.Get(ctx, cfg)
	if got != c1 {
		t.Error("expected first session to be kept and second closed")
	}
	p.Put(cfg.Key(), got)
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	p := telemetry.NewPool(telemetry.PoolOptions{Dial: fakeDialer(nil)}, nil)
	defer p.Close()

	cfg := testSessionCfg()
	cfg.MaxConcurrent = 2

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c1, err := p.Get(ctx, cfg)
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	c2, err := p.Get(ctx, cfg)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if _, err := p.Get(ctx, cfg); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get 3 err = %v, want deadline exceeded", err)
	}

	p.Discard(cfg.Key(), c1)
	c3, err := p.Get(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Get after discard: %v", err)
	}
	p.Discard(cfg.Key(), c2)
	p.Discard(cfg.Key(), c3)
}

func TestPool_DevicesDoNotShareSlots(t *testing.T) {
	p := telemetry.NewPool(telemetry.PoolOptions{Dial: fakeDialer(nil)}, nil)
	defer p.Close()

	a := testSessionCfg()
	a.MaxConcurrent = 1
	b := a
	b.Address = netip.MustParseAddr("10.20.30.1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ca, err := p.Get(ctx, a)
	if err != nil {
		t.Fatalf("Get a: %v", err)
	}
	cb, err := p.Get(ctx, b)
	if err != nil {
		t.Fatalf("Get b blocked by a: %v", err)
	}
	p.Put(a.Key(), ca)
	p.Put(b.Key(), cb)
}

func TestPool_IdleTimeout(t *testing.T) {
	var dials atomic.Int32
	p := telemetry.NewPool(telemetry.PoolOptions{
		MaxIdlePerDevice: 2,
		IdleTimeout:      10 * time.Millisecond,
		Dial:             fakeDialer(&dials),
	}, nil)
	defer p.Close()

	ctx := context.Background()
	cfg := testSessionCfg()

	c1, _ := p.Get(ctx, cfg)
	p.Put(cfg.Key(), c1)
	time.Sleep(20 * time.Millisecond)

	c2, _ := p.Get(ctx, cfg)
	if dials.Load() != 2 {
		t.Errorf("dialed %d times, want 2 (stale session discarded)", dials.Load())
	}
	p.Discard(cfg.Key(), c2)
}

func TestPool_Close(t *testing.T) {
	p := telemetry.NewPool(telemetry.PoolOptions{Dial: fakeDialer(nil)}, nil)
	ctx := context.Background()
	cfg := testSessionCfg()

	c1, _ := p.Get(ctx, cfg)
	p.Put(cfg.Key(), c1)
	_ = p.Close()
	_ = p.Close()

	if _, err := p.Get(ctx, cfg); !errors.Is(err, telemetry.ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
}

// trackedConn records Close; the embedded Conn is never used.
type trackedConn struct {
	net.Conn
	closed atomic.Bool
}

func (c *trackedConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestPool_PutRacingCloseClosesSession(t *testing.T) {
	for i := 0; i < 200; i++ {
		var conns []*trackedConn
		var mu sync.Mutex
		p := telemetry.NewPool(telemetry.PoolOptions{
			MaxIdlePerDevice: 4,
			Dial: func(cfg telemetry.SessionConfig) (*gosnmp.GoSNMP, error) {
				c := &trackedConn{}
				mu.Lock()
				conns = append(conns, c)
				mu.Unlock()
				return &gosnmp.GoSNMP{Target: cfg.Address.String(), Conn: c}, nil
			},
		}, nil)

		cfg := testSessionCfg()
		cfg.MaxConcurrent = 4
		var held []*gosnmp.GoSNMP
		for j := 0; j < 4; j++ {
			c, err := p.Get(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			held = append(held, c)
		}

		var wg sync.WaitGroup
		for _, c := range held {
			wg.Add(1)
			go func(c *gosnmp.GoSNMP) {
				defer wg.Done()
				p.Put(cfg.Key(), c)
			}(c)
		}
		_ = p.Close()
		wg.Wait()

		for j, c := range conns {
			if !c.closed.Load() {
				t.Fatalf("iteration %d: session %d left open after Close", i, j)
			}
		}
	}
}

func TestPool_DialError(t *testing.T) {
	var calls atomic.Int32
	p := telemetry.NewPool(telemetry.PoolOptions{
		Dial: func(telemetry.SessionConfig) (*gosnmp.GoSNMP, error) {
			calls.Add(1)
			return nil, errors.New("unreachable")
		},
	}, nil)
	defer p.Close()

	cfg := testSessionCfg()
	cfg.MaxConcurrent = 1
	for i := 0; i < 2; i++ {
		if _, err := p.Get(context.Background(), cfg); err == nil {
			t.Fatal("expected dial error")
		}
	}
	// The failed dial must have released its slot, or the second Get would block.
	if calls.Load() != 2 {
		t.Errorf("dial called %d times, want 2", calls.Load())
	}
}
