package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("telemetry: pool closed")

// PoolOptions configures the session pool.
type PoolOptions struct {
	// MaxIdlePerDevice is the number of idle sessions kept per device
	// (default 1). Extra sessions handed back are closed.
	MaxIdlePerDevice int

	// IdleTimeout discards sessions idle for longer than this. Zero keeps
	// them until Close.
	IdleTimeout time.Duration

	// Dial opens new sessions. Defaults to NewSession.
	Dial func(SessionConfig) (*gosnmp.GoSNMP, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Pool
// ─────────────────────────────────────────────────────────────────────────────

type parked struct {
	conn  *gosnmp.GoSNMP
	since time.Time
}

// device tracks one radio: a weighted semaphore caps in-flight requests and
// parked holds sessions ready for reuse, newest last.
type device struct {
	inflight *semaphore.Weighted

	mu     sync.Mutex
	parked []parked
	closed bool
}

// Pool hands out gosnmp sessions keyed by SessionConfig.Key. It is the only
// state shared between concurrent diagnoses and is safe for concurrent use.
type Pool struct {
	maxIdle     int
	idleTimeout time.Duration
	dial        func(SessionConfig) (*gosnmp.GoSNMP, error)
	logger      *slog.Logger

	// life is cancelled by Close so blocked Get calls return.
	life     context.Context
	shutdown context.CancelFunc

	mu      sync.Mutex
	devices map[string]*device
}

// NewPool creates an empty pool.
func NewPool(opts PoolOptions, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	p := &Pool{
		maxIdle:     max(opts.MaxIdlePerDevice, 1),
		idleTimeout: opts.IdleTimeout,
		dial:        opts.Dial,
		logger:      logger,
		devices:     make(map[string]*device),
	}
	if p.dial == nil {
		p.dial = NewSession
	}
	p.life, p.shutdown = context.WithCancel(context.Background())
	return p
}

// Get returns a session for cfg, waiting while the device is at its
// concurrency limit. Every successful Get must be followed by Put or Discard
// with the same key.
func (p *Pool) Get(ctx context.Context, cfg SessionConfig) (*gosnmp.GoSNMP, error) {
	if p.life.Err() != nil {
		return nil, ErrPoolClosed
	}
	d := p.device(cfg.Key(), cfg.MaxConcurrent)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(p.life, cancel)
	defer unhook()

	if err := d.inflight.Acquire(waitCtx, 1); err != nil {
		if p.life.Err() != nil {
			return nil, ErrPoolClosed
		}
		return nil, ctx.Err()
	}

	if conn := d.take(p.idleTimeout); conn != nil {
		return conn, nil
	}
	conn, err := p.dial(cfg)
	if err != nil {
		d.inflight.Release(1)
		return nil, err
	}
	p.logger.Debug("telemetry: session opened", "device", cfg.Key())
	return conn, nil
}

// Put parks a healthy session for reuse and frees its slot.
func (p *Pool) Put(key string, conn *gosnmp.GoSNMP) {
	d := p.lookup(key)
	if d == nil {
		closeConn(conn)
		return
	}
	defer d.inflight.Release(1)

	if !d.park(conn, p.maxIdle) {
		closeConn(conn)
	}
}

// Discard closes a session that failed and frees its slot.
func (p *Pool) Discard(key string, conn *gosnmp.GoSNMP) {
	closeConn(conn)
	if d := p.lookup(key); d != nil {
		d.inflight.Release(1)
	}
}

// Close closes every parked session and fails later Get calls. Sessions
// still checked out are closed as they come back.
func (p *Pool) Close() error {
	if p.life.Err() != nil {
		return nil
	}
	p.shutdown()

	p.mu.Lock()
	defer p.mu.Unlock()
	closed := 0
	for _, d := range p.devices {
		closed += d.drain()
	}
	p.logger.Debug("telemetry: pool closed", "devices", len(p.devices), "sessions_closed", closed)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// device returns the entry for key, creating it with room for maxConcurrent
// requests (default 2). The limit is fixed by the first caller.
func (p *Pool) device(key string, maxConcurrent int) *device {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.devices[key]; ok {
		return d
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	d := &device{
		inflight: semaphore.NewWeighted(int64(maxConcurrent)),
		closed:   p.life.Err() != nil,
	}
	p.devices[key] = d
	return d
}

func (p *Pool) lookup(key string) *device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[key]
}

// take pops the newest parked session, closing any that sat longer than ttl.
func (d *device) take(ttl time.Duration) *gosnmp.GoSNMP {
	d.mu.Lock()
	defer d.mu.Unlock()
	for n := len(d.parked); n > 0; n = len(d.parked) {
		s := d.parked[n-1]
		d.parked = d.parked[:n-1]
		if ttl > 0 && time.Since(s.since) > ttl {
			closeConn(s.conn)
			continue
		}
		return s.conn
	}
	return nil
}

// park keeps conn for reuse. It refuses once the device has been drained by
// Close, so a Put racing Close cannot leave a session behind.
func (d *device) park(conn *gosnmp.GoSNMP, limit int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.parked) >= limit {
		return false
	}
	d.parked = append(d.parked, parked{conn: conn, since: time.Now()})
	return true
}

func (d *device) drain() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, s := range d.parked {
		closeConn(s.conn)
	}
	n := len(d.parked)
	d.parked = nil
	return n
}

func closeConn(conn *gosnmp.GoSNMP) {
	if conn != nil && conn.Conn != nil {
		_ = conn.Conn.Close()
	}
}

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
