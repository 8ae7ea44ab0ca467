package internal

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"PlagiCheck/internal/models"
)

// AppStats atomic counters for the end-of-run summary.
type AppStats struct {
	start              time.Time
	FilesFound         atomic.Int64
	FilesFingerprinted atomic.Int64
	FilesScanned       atomic.Int64
	FullMatches        atomic.Int64
	SnippetMatches     atomic.Int64
	Errors             atomic.Int64

	metrics *Metrics
}

func (s *AppStats) Start() {
	s.start = time.Now()
}

func (s *AppStats) Elapsed() time.Duration {
	return time.Since(s.start)
}

// WithMetrics mirrors every counter update into m.
func (s *AppStats) WithMetrics(m *Metrics) *AppStats {
	s.metrics = m
	return s
}

func (s *AppStats) fingerprinted() {
	s.FilesFingerprinted.Add(1)
	if s.metrics != nil {
		s.metrics.fingerprinted.Inc()
	}
}

func (s *AppStats) failed() {
	s.Errors.Add(1)
	if s.metrics != nil {
		s.metrics.errors.Inc()
	}
}

func (s *AppStats) scanned(matchType string, took time.Duration) {
	s.FilesScanned.Add(1)
	switch matchType {
	case models.ResultFullFile:
		s.FullMatches.Add(1)
	case models.ResultSnippet:
		s.SnippetMatches.Add(1)
	}
	if s.metrics != nil {
		s.metrics.scanned.WithLabelValues(matchType).Inc()
		s.metrics.scanSeconds.Observe(took.Seconds())
	}
}

// Metrics lives on its own registry so a run can dump it to a textfile.
type Metrics struct {
	registry      *prometheus.Registry
	scanned       *prometheus.CounterVec
	fingerprinted prometheus.Counter
	errors        prometheus.Counter
	scanSeconds   prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plagicheck_files_scanned_total",
			Help: "Files scanned against the knowledge base, by result.",
		}, []string{"match_type"}),
		fingerprinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plagicheck_files_fingerprinted_total",
			Help: "Files turned into winnowing fingerprints.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plagicheck_errors_total",
			Help: "Files that could not be read, fingerprinted or imported.",
		}),
		scanSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plagicheck_entry_scan_seconds",
			Help:    "Time spent matching one file.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	m.registry.MustRegister(m.scanned, m.fingerprinted, m.errors, m.scanSeconds)
	return m
}

// Registry exposes the collectors, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteFile dumps the registry in text exposition format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
