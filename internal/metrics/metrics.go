// Package metrics provides Prometheus metrics for triage, reporting and ingest
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records pipeline events to Prometheus and keeps local totals for
// the stats endpoint
type Metrics struct {
	mu       sync.RWMutex
	outcomes map[string]int64 // "classification/action" -> count
	reports  map[string]int64 // "stage/result" -> count
	ingested map[string]int64 // result -> count
}

// New creates a metrics collector
func New() *Metrics {
	return &Metrics{
		outcomes: make(map[string]int64),
		reports:  make(map[string]int64),
		ingested: make(map[string]int64),
	}
}

// RecordOutcome records one triage decision
func (m *Metrics) RecordOutcome(classification, action string) {
	m.mu.Lock()
	m.outcomes[classification+"/"+action]++
	m.mu.Unlock()
	triageOutcomes.WithLabelValues(classification, action).Inc()
}

// RecordReport records the result of one reporter stage
func (m *Metrics) RecordReport(stage, result string) {
	m.mu.Lock()
	m.reports[stage+"/"+result]++
	m.mu.Unlock()
	reportStages.WithLabelValues(stage, result).Inc()
}

// RecordIngest records one HTTP submission and how long it took
func (m *Metrics) RecordIngest(result string, duration time.Duration) {
	m.mu.Lock()
	m.ingested[result]++
	m.mu.Unlock()
	ingestRequests.WithLabelValues(result).Inc()
	ingestDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// SetStoreGauges updates the stored report gauges
func (m *Metrics) SetStoreGauges(total, unresolved int) {
	storedReports.WithLabelValues("total").Set(float64(total))
	storedReports.WithLabelValues("unresolved").Set(float64(unresolved))
}

// Snapshot is a copy of the local totals
type Snapshot struct {
	Outcomes map[string]int64 `json:"outcomes"`
	Reports  map[string]int64 `json:"reports"`
	Ingested map[string]int64 `json:"ingested"`
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Outcomes: copyCounts(m.outcomes),
		Reports:  copyCounts(m.reports),
		Ingested: copyCounts(m.ingested),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Register adds the collectors to reg. Collectors that are already
// registered are left as they are.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g in the exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		triageOutcomes,
		reportStages,
		ingestRequests,
		ingestDuration,
		storedReports,
	}
}

var (
	triageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errsink_triage_outcomes_total",
			Help: "Total number of undeliverable errors triaged",
		},
		[]string{"classification", "action"},
	)

	reportStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errsink_report_stages_total",
			Help: "Total number of crash report stage results",
		},
		[]string{"stage", "result"},
	)

	ingestRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errsink_ingest_requests_total",
			Help: "Total number of error submissions received over HTTP",
		},
		[]string{"result"},
	)

	storedReports = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "errsink_stored_reports",
			Help: "Number of crash reports in the store",
		},
		[]string{"state"},
	)

	ingestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "errsink_ingest_duration_seconds",
			Help:    "Time spent handling one error submission",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"result"},
	)
)
