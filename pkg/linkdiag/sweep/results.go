package sweep

import (
	"log/slog"
	"sync"

	"github.com/shsakib0002/smart-noc/models"
)

// LinkGauges publishes per-link state. *observability.Collector satisfies
// it, including when nil.
type LinkGauges interface {
	SetLinkState(d models.Diagnosis)
	ResetLinks()
}

// ReportFormatter is satisfied by *json.JSONFormatter.
type ReportFormatter interface {
	Format(report *models.Report) ([]byte, error)
}

// ReportSender is satisfied by the transports in transport/file.
type ReportSender interface {
	Send(data []byte) error
}

// ResultsOptions wires the optional outputs of Results.
type ResultsOptions struct {
	Gauges    LinkGauges
	Formatter ReportFormatter
	Output    ReportSender
}

// Results keeps the latest sweep verdict per link in memory. Nothing is
// persisted; a restart starts empty.
type Results struct {
	opts   ResultsOptions
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[string]models.Diagnosis
	// known is the link set from the last Retain; nil accepts every link.
	known map[string]bool
}

// NewResults creates an empty Results. Reports are written only when both
// Formatter and Output are set.
func NewResults(opts ResultsOptions, logger *slog.Logger) *Results {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Results{
		opts:   opts,
		logger: logger,
		latest: make(map[string]models.Diagnosis),
	}
}

// Record implements Sink. A verdict for a link dropped by Retain while it
// was being diagnosed is discarded.
func (r *Results) Record(d models.Diagnosis) {
	if d.LinkID == "" {
		return
	}
	r.mu.Lock()
	if r.known != nil && !r.known[d.LinkID] {
		r.mu.Unlock()
		r.logger.Debug("sweep: verdict for removed link discarded", "link_id", d.LinkID)
		return
	}
	if prev, ok := r.latest[d.LinkID]; ok && prev.Code != d.Code {
		r.logger.Info("sweep: verdict changed",
			"link_id", d.LinkID,
			"from", prev.Code.String(),
			"to", d.Code.String(),
		)
	}
	r.latest[d.LinkID] = d
	if r.opts.Gauges != nil {
		r.opts.Gauges.SetLinkState(d)
	}
	r.mu.Unlock()

	r.write(d)
}

// Latest returns the last sweep report for a link.
func (r *Results) Latest(linkID string) (models.Report, bool) {
	r.mu.RLock()
	d, ok := r.latest[linkID]
	r.mu.RUnlock()
	if !ok {
		return models.Report{}, false
	}
	return models.NewReport(d), true
}

// Len returns the number of links with a remembered verdict.
func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.latest)
}

// Retain forgets every link not in ids and republishes the gauges for the
// rest. It is called after an inventory reload; later verdicts for links
// outside ids are discarded.
func (r *Results) Retain(ids []string) {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.known = keep
	for id := range r.latest {
		if !keep[id] {
			delete(r.latest, id)
		}
	}
	if r.opts.Gauges == nil {
		return
	}
	r.opts.Gauges.ResetLinks()
	for _, d := range r.latest {
		r.opts.Gauges.SetLinkState(d)
	}
}

func (r *Results) write(d models.Diagnosis) {
	if r.opts.Formatter == nil || r.opts.Output == nil {
		return
	}
	report := models.NewReport(d)
	data, err := r.opts.Formatter.Format(&report)
	if err != nil {
		r.logger.Warn("sweep: format report failed", "link_id", d.LinkID, "error", err.Error())
		return
	}
	if err := r.opts.Output.Send(data); err != nil {
		r.logger.Warn("sweep: write report failed", "link_id", d.LinkID, "error", err.Error())
	}
}
