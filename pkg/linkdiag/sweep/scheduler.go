// Package sweep re-diagnoses every active inventory link on a fixed interval.
// A Scheduler fires one Job per link into a bounded WorkerPool; workers run
// the engine and hand each verdict to Results, which remembers the latest
// one per link, updates the per-link gauges and optionally logs the report.
package sweep

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shsakib0002/smart-noc/models"
)

// Job asks a worker to diagnose one link.
type Job struct {
	Link models.Link
}

// JobSubmitter is the subset of WorkerPool the scheduler uses.
type JobSubmitter interface {
	TrySubmit(Job) bool
}

// LinkSource lists the links to sweep. *inventory.Store satisfies it.
type LinkSource interface {
	Active() []models.Link
}

// DropCounter counts jobs dropped on a full queue.
// *observability.Collector satisfies it, including when nil.
type DropCounter interface {
	IncSweepDropped()
}

// entry tracks the next fire time of one link.
type entry struct {
	link    models.Link
	nextRun time.Time
}

// Scheduler fires a Job per active link every interval.
type Scheduler struct {
	interval time.Duration
	source   LinkSource
	pool     JobSubmitter
	dropped  DropCounter
	logger   *slog.Logger

	mu      sync.Mutex
	entries []entry

	wake chan struct{}
	done chan struct{}
}

// NewScheduler creates a Scheduler. It does not start until Start is called.
// dropped may be nil.
func NewScheduler(interval time.Duration, source LinkSource, pool JobSubmitter, dropped DropCounter, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	s := &Scheduler{
		interval: interval,
		source:   source,
		pool:     pool,
		dropped:  dropped,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.entries = s.buildEntries(nil)
	return s
}

// Start runs the scheduling loop until ctx is cancelled. Every link fires
// immediately on start.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	for {
		// A nil channel blocks forever: with no links the loop only waits
		// for a Reload or shutdown.
		var due <-chan time.Time
		var timer *time.Timer
		if next, ok := s.nextDeadline(); ok {
			timer = time.NewTimer(max(time.Until(next), 0))
			due = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case now := <-due:
			s.fireDue(now)
		}
	}
}

// nextDeadline sorts the entries by fire time and returns the earliest.
func (s *Scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	slices.SortFunc(s.entries, func(a, b entry) int {
		return a.nextRun.Compare(b.nextRun)
	})
	return s.entries[0].nextRun, true
}

// fireDue submits every link whose fire time has passed. Entries are sorted,
// so the scan stops at the first future one.
func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		e := &s.entries[i]
		if e.nextRun.After(now) {
			return
		}
		s.fire(e.link)
		e.nextRun = now.Add(s.interval)
	}
}

// Stop waits for the loop to exit. Cancel the context passed to Start first.
func (s *Scheduler) Stop() {
	<-s.done
}

// Reload re-reads the link source. Links already scheduled keep their next
// fire time; new links fire immediately; removed links stop.
func (s *Scheduler) Reload() {
	s.mu.Lock()
	s.entries = s.buildEntries(s.entries)
	n := len(s.entries)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.logger.Info("sweep: links reloaded", "links", n)
}

// Entries returns the number of scheduled links.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) buildEntries(prev []entry) []entry {
	nextByID := make(map[string]time.Time, len(prev))
	for _, e := range prev {
		nextByID[e.link.ID] = e.nextRun
	}

	now := time.Now()
	links := s.source.Active()
	entries := make([]entry, 0, len(links))
	for _, l := range links {
		next, ok := nextByID[l.ID]
		if !ok {
			next = now
		}
		entries = append(entries, entry{link: l, nextRun: next})
	}
	return entries
}

func (s *Scheduler) fire(link models.Link) {
	if s.pool.TrySubmit(Job{Link: link}) {
		return
	}
	s.logger.Warn("sweep: job queue full, dropping job", "link_id", link.ID)
	if s.dropped != nil {
		s.dropped.IncSweepDropped()
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
