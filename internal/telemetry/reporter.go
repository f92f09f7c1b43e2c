// Package telemetry records unexpected failures. Expected failures (typed
// client errors and platform noise) are filtered out before anything is
// written.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgnsrekt/overlay_agent/internal/clienterr"
)

var reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "overlay_error_reports_total",
	Help: "Unexpected errors reported, by operation",
}, []string{"operation"})

// Report is one crash report record.
type Report struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Operation string    `json:"operation"`
	URL       string    `json:"url,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error"`
}

// Sink receives reports, e.g. a storage.JSONLWriter.
type Sink interface {
	Write(record any) error
}

// Sinks writes each report to every sink and returns the first error.
type Sinks []Sink

func (s Sinks) Write(record any) error {
	var first error
	for _, sink := range s {
		if err := sink.Write(record); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reporter filters and forwards errors to a Sink.
type Reporter struct {
	sink Sink
	now  func() time.Time
}

// NewReporter creates a reporter. A nil sink counts reports without
// writing them.
func NewReporter(sink Sink) *Reporter {
	return &Reporter{sink: sink, now: time.Now}
}

// Capture reports err unless it is expected. It returns whether a report
// was produced.
func (r *Reporter) Capture(err error, operation, url string) bool {
	if err == nil || clienterr.IsKnown(err) || clienterr.IsNoise(err) {
		return false
	}
	reportsTotal.WithLabelValues(operation).Inc()
	if r == nil || r.sink == nil {
		return true
	}
	rep := Report{
		ID:        uuid.NewString(),
		Time:      r.now().UTC(),
		Operation: operation,
		URL:       url,
		Code:      clienterr.Code(err),
		Error:     err.Error(),
	}
	if werr := r.sink.Write(rep); werr != nil {
		return false
	}
	return true
}
