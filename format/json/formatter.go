// Package json serialises diagnosis reports for the one-shot CLI mode and the
// sweep's report log.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shsakib0002/smart-noc/models"
)

// Formatter turns a report into one record for a transport.
type Formatter interface {
	Format(report *models.Report) ([]byte, error)
}

// Config controls JSONFormatter.
type Config struct {
	// PrettyPrint indents the output. Leave it off for line-oriented logs,
	// where one report must stay on one line.
	PrettyPrint bool

	// Indent defaults to two spaces.
	Indent string

	// EscapeHTML escapes <, > and & in strings. Off by default so operators
	// reading the log see causes and signal displays verbatim.
	EscapeHTML bool
}

// JSONFormatter is safe for concurrent use.
type JSONFormatter struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *JSONFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.PrettyPrint && cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &JSONFormatter{cfg: cfg, logger: logger}
}

// Format returns the report without a trailing newline; transports add their
// own record separator.
//
//	{"final_status":"CLIENT DOWN","cause":"Base UP. Client Unreachable.",
//	 "topology":{"client":{…},"base":{…},"gw":{…}},"link_id":"dhk-101",…}
func (f *JSONFormatter) Format(report *models.Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("format/json: nil report")
	}
	if report.FinalStatus == "" {
		return nil, fmt.Errorf("format/json: report for %q has no final status", report.ClientIP)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(f.cfg.EscapeHTML)
	if f.cfg.PrettyPrint {
		enc.SetIndent("", f.cfg.Indent)
	}
	if err := enc.Encode(report); err != nil {
		f.logger.Error("format/json: encode failed",
			"link_id", report.LinkID,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("format/json: encode: %w", err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	f.logger.Debug("format/json: report encoded",
		"link_id", report.LinkID,
		"final_status", report.FinalStatus,
		"bytes", len(data),
	)
	return data, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
