// Package file delivers formatted diagnosis reports to local writers: stdout
// for the one-shot CLI, or the sweep's report and fault logs.
//
// A Fanout holds one or more routes. Every route has a writer and an
// optional filter, so "all reports to reports.jsonl, faults also to
// faults.jsonl" is two routes on one transport.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Transport delivers one pre-formatted report. Close releases any writer the
// transport owns.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Filter decides whether a route receives a record.
type Filter func(record []byte) bool

// Faults accepts reports whose final_status is anything but LINK UP.
// Records that are not a JSON report are treated as faults so nothing is
// silently hidden from the fault log.
func Faults(record []byte) bool {
	var head struct {
		FinalStatus string `json:"final_status"`
	}
	if err := json.Unmarshal(record, &head); err != nil {
		return true
	}
	return head.FinalStatus != "LINK UP"
}

// Route is one destination.
type Route struct {
	// Writer receives the records. Writers that implement io.Closer, other
	// than stdout and stderr, are owned and closed by the transport.
	Writer io.Writer

	// Filter selects records. Nil accepts everything.
	Filter Filter
}

// Config controls a Fanout.
type Config struct {
	// Routes default to a single unfiltered stdout route.
	Routes []Route

	// Newline terminates each record (default "\n").
	Newline string
}

// Reopener is implemented by writers that can reopen their file after an
// external rotation, such as *RotatingFile.
type Reopener interface {
	Reopen() error
}

type route struct {
	mu     sync.Mutex
	w      io.Writer
	accept Filter
	closer io.Closer
}

// Fanout writes each record to every route that accepts it. Records are
// written with a single Write call per route, so concurrent Sends never
// interleave and appends stay whole.
type Fanout struct {
	routes []*route
	nl     string
	logger *slog.Logger
}

// New constructs a Fanout.
func New(cfg Config, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = []Route{{Writer: os.Stdout}}
	}
	if cfg.Newline == "" {
		cfg.Newline = "\n"
	}
	f := &Fanout{nl: cfg.Newline, logger: logger}
	for _, r := range cfg.Routes {
		w := r.Writer
		if w == nil {
			w = os.Stdout
		}
		f.routes = append(f.routes, &route{w: w, accept: r.Filter, closer: owned(w)})
	}
	return f
}

// Send writes data to every accepting route. A failing route does not stop
// the others; all errors are returned together.
func (f *Fanout) Send(data []byte) error {
	record := make([]byte, 0, len(data)+len(f.nl))
	record = append(append(record, data...), f.nl...)

	var errs []error
	sent := 0
	for i, r := range f.routes {
		if r.accept != nil && !r.accept(data) {
			continue
		}
		r.mu.Lock()
		_, err := r.w.Write(record)
		r.mu.Unlock()
		if err != nil {
			f.logger.Error("transport/file: write failed",
				"route", i,
				"bytes", len(record),
				"error", err.Error(),
			)
			errs = append(errs, fmt.Errorf("transport/file: route %d: %w", i, err))
			continue
		}
		sent++
	}
	f.logger.Debug("transport/file: record sent", "routes", sent, "bytes", len(data))
	return errors.Join(errs...)
}

// Reopen asks every writer that supports it to reopen its file.
func (f *Fanout) Reopen() error {
	var errs []error
	for _, r := range f.routes {
		ro, ok := r.w.(Reopener)
		if !ok {
			continue
		}
		r.mu.Lock()
		err := ro.Reopen()
		r.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes owned writers. Calling it again is a no-op.
func (f *Fanout) Close() error {
	var errs []error
	for _, r := range f.routes {
		r.mu.Lock()
		if r.closer != nil {
			if err := r.closer.Close(); err != nil {
				errs = append(errs, err)
			}
			r.closer = nil
		}
		r.mu.Unlock()
	}
	return errors.Join(errs...)
}

// owned returns w as an io.Closer unless it is a standard stream.
func owned(w io.Writer) io.Closer {
	if w == os.Stdout || w == os.Stderr {
		return nil
	}
	c, _ := w.(io.Closer)
	return c
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
