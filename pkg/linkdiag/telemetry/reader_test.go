package telemetry

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/shsakib0002/smart-noc/pkg/linkdiag/sampler"
)

const (
	rssiOID = "1.3.6.1.4.1.17713.21.1.2.1.0"
	lanOID  = "1.3.6.1.2.1.2.2.1.5.1"
)

type recordingDialer struct {
	mu      sync.Mutex
	configs []SessionConfig
}

func (d *recordingDialer) dial(cfg SessionConfig) (*gosnmp.GoSNMP, error) {
	d.mu.Lock()
	d.configs = append(d.configs, cfg)
	d.mu.Unlock()
	return &gosnmp.GoSNMP{Target: cfg.Address.String(), Community: cfg.Community}, nil
}

func newTestReader(d *recordingDialer, get func(*gosnmp.GoSNMP, []string) (*gosnmp.SnmpPacket, error)) (*Reader, *Pool) {
	pool := NewPool(PoolOptions{Dial: d.dial}, nil)
	r := NewReader(pool, SessionConfig{Version: "2c", Community: "public", Port: 161, Timeout: time.Second}, nil)
	r.get = get
	return r, pool
}

func TestReader_DecodesRequestedOIDs(t *testing.T) {
	d := &recordingDialer{}
	r, pool := newTestReader(d, func(_ *gosnmp.GoSNMP, oids []string) (*gosnmp.SnmpPacket, error) {
		return &gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{
			{Name: "." + rssiOID, Type: gosnmp.Integer, Value: -605},
			{Name: "." + lanOID, Type: gosnmp.NoSuchInstance},
			{Name: ".1.3.6.1.9.9", Type: gosnmp.Integer, Value: 7},
		}}, nil
	})
	defer pool.Close()

	target := sampler.Target{Address: netip.MustParseAddr("10.20.30.41"), Community: "radio-ro"}
	got, err := r.Read(context.Background(), target, []string{rssiOID, lanOID})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[rssiOID] != -605 {
		t.Errorf("got %v, want only %s=-605", got, rssiOID)
	}
	if len(d.configs) != 1 || d.configs[0].Community != "radio-ro" {
		t.Errorf("dial configs = %+v, want community radio-ro", d.configs)
	}
	if d.configs[0].Address != target.Address {
		t.Errorf("dialed %s, want %s", d.configs[0].Address, target.Address)
	}
}

func TestReader_DefaultCommunity(t *testing.T) {
	d := &recordingDialer{}
	r, pool := newTestReader(d, func(*gosnmp.GoSNMP, []string) (*gosnmp.SnmpPacket, error) {
		return &gosnmp.SnmpPacket{}, nil
	})
	defer pool.Close()

	if _, err := r.Read(context.Background(), sampler.Target{Address: netip.MustParseAddr("10.0.0.2")}, []string{rssiOID}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if d.configs[0].Community != "public" {
		t.Errorf("community = %q, want public", d.configs[0].Community)
	}
}

func TestReader_ErrorDiscardsSession(t *testing.T) {
	d := &recordingDialer{}
	calls := 0
	r, pool := newTestReader(d, func(*gosnmp.GoSNMP, []string) (*gosnmp.SnmpPacket, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("request timeout (after 1 retries)")
		}
		return &gosnmp.SnmpPacket{}, nil
	})
	defer pool.Close()

	target := sampler.Target{Address: netip.MustParseAddr("10.0.0.2")}
	if _, err := r.Read(context.Background(), target, []string{rssiOID}); err == nil {
		t.Fatal("expected error from failed get")
	}
	if _, err := r.Read(context.Background(), target, []string{rssiOID}); err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if len(d.configs) != 2 {
		t.Errorf("dialed %d times, want 2 (broken session discarded)", len(d.configs))
	}
}

func TestReader_ContextAttachedDuringGet(t *testing.T) {
	d := &recordingDialer{}
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "probe")

	var seen context.Context
	r, pool := newTestReader(d, func(conn *gosnmp.GoSNMP, _ []string) (*gosnmp.SnmpPacket, error) {
		seen = conn.Context
		return &gosnmp.SnmpPacket{}, nil
	})
	defer pool.Close()

	if _, err := r.Read(ctx, sampler.Target{Address: netip.MustParseAddr("10.0.0.2")}, []string{rssiOID}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if seen == nil || seen.Value(ctxKey{}) != "probe" {
		t.Error("request context was not attached to the session")
	}
}
