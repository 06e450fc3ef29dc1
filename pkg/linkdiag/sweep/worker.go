package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shsakib0002/smart-noc/models"
)

// Diagnoser is satisfied by *diagnose.Engine.
type Diagnoser interface {
	DiagnoseLink(ctx context.Context, link models.Link) (models.Diagnosis, error)
}

// Sink receives every completed diagnosis. *Results satisfies it.
type Sink interface {
	Record(d models.Diagnosis)
}

// WorkerPool runs link diagnoses on a fixed number of goroutines. The
// scheduler and the trap receiver both feed it. A link that is already
// queued or being diagnosed is not queued a second time.
type WorkerPool struct {
	size      int
	diagnoser Diagnoser
	sink      Sink
	logger    *slog.Logger

	queue    chan Job
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[string]bool
	closed  bool
}

// NewWorkerPool creates a pool of size goroutines (default 4) with a queue of
// two jobs per worker.
func NewWorkerPool(size int, diagnoser Diagnoser, sink Sink, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &WorkerPool{
		size:      size,
		diagnoser: diagnoser,
		sink:      sink,
		logger:    logger,
		queue:     make(chan Job, size*2),
		pending:   make(map[string]bool),
	}
}

// Start launches the workers. They exit when ctx is cancelled or after Stop
// has drained the queue.
func (w *WorkerPool) Start(ctx context.Context) {
	w.wg.Add(w.size)
	for i := 0; i < w.size; i++ {
		go w.run(ctx, i)
	}
}

// TrySubmit queues job without blocking. It reports false when the queue is
// full or the pool is stopped; a job for a link that is already pending is
// coalesced and reported as queued.
func (w *WorkerPool) TrySubmit(job Job) bool {
	id := job.Link.ID
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if w.pending[id] {
		w.logger.Debug("sweep: link already pending", "link_id", id)
		return true
	}
	select {
	case w.queue <- job:
		w.pending[id] = true
		return true
	default:
		return false
	}
}

// Pending returns the number of links queued or being diagnosed.
func (w *WorkerPool) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Stop closes the queue and waits for the workers to drain it. Producers
// must be stopped first. Safe to call more than once.
func (w *WorkerPool) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *WorkerPool) run(ctx context.Context, id int) {
	defer w.wg.Done()
	for {
		var job Job
		select {
		case <-ctx.Done():
			return
		case j, ok := <-w.queue:
			if !ok {
				return
			}
			job = j
		}
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		d, err := w.diagnoser.DiagnoseLink(ctx, job.Link)
		w.done(job.Link.ID)
		if err != nil {
			w.logger.Warn("sweep: diagnosis failed",
				"worker", id,
				"link_id", job.Link.ID,
				"error", err.Error(),
			)
			continue
		}
		w.logger.Debug("sweep: link diagnosed",
			"worker", id,
			"link_id", job.Link.ID,
			"final_status", d.Code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if w.sink != nil {
			w.sink.Record(d)
		}
	}
}

func (w *WorkerPool) done(linkID string) {
	w.mu.Lock()
	delete(w.pending, linkID)
	w.mu.Unlock()
}
