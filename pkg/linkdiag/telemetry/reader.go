package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/shsakib0002/smart-noc/pkg/linkdiag/sampler"
	"github.com/shsakib0002/smart-noc/snmp/decoder"
)

// Reader is the production sampler.TelemetryReader. It issues one SNMP Get
// per call using sessions borrowed from a Pool.
type Reader struct {
	pool   *Pool
	base   SessionConfig
	logger *slog.Logger

	// get performs the request; replaced in tests.
	get func(conn *gosnmp.GoSNMP, oids []string) (*gosnmp.SnmpPacket, error)
}

var _ sampler.TelemetryReader = (*Reader)(nil)

// NewReader returns a Reader whose sessions use base for everything except
// the address, and the community when the target names one.
func NewReader(pool *Pool, base SessionConfig, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Reader{
		pool:   pool,
		base:   base,
		logger: logger,
		get:    func(conn *gosnmp.GoSNMP, oids []string) (*gosnmp.SnmpPacket, error) { return conn.Get(oids) },
	}
}

// Read implements sampler.TelemetryReader. Varbinds the device reports as
// missing, or that are not numeric, are left out of the result.
func (r *Reader) Read(ctx context.Context, target sampler.Target, oids []string) (map[string]int64, error) {
	if len(oids) == 0 {
		return map[string]int64{}, nil
	}
	cfg := r.base
	cfg.Address = target.Address
	if target.Community != "" {
		cfg.Community = target.Community
	}
	key := cfg.Key()

	conn, err := r.pool.Get(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: session %s: %w", key, err)
	}

	conn.Context = ctx
	start := time.Now()
	pkt, err := r.get(conn, oids)
	conn.Context = context.Background()
	if err != nil {
		r.pool.Discard(key, conn)
		return nil, fmt.Errorf("telemetry: get %s: %w", target.Address, err)
	}
	r.pool.Put(key, conn)

	requested := make(map[string]string, len(oids))
	for _, oid := range oids {
		requested[decoder.NormaliseOID(oid)] = oid
	}

	out := make(map[string]int64, len(oids))
	for _, pdu := range pkt.Variables {
		name, ok := requested[decoder.NormaliseOID(pdu.Name)]
		if !ok || decoder.IsErrorType(pdu.Type) {
			continue
		}
		v, err := decoder.Int64(pdu)
		if err != nil {
			r.logger.Debug("telemetry: skipping varbind",
				"address", target.Address.String(),
				"oid", name,
				"type", pdu.Type.String(),
				"error", err.Error(),
			)
			continue
		}
		out[name] = v
	}

	r.logger.Debug("telemetry: get completed",
		"address", target.Address.String(),
		"requested", len(oids),
		"returned", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
