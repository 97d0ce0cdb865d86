package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram

	// Result stats
	cleanEndpoints    prometheus.Gauge
	scannedCandidates prometheus.Gauge

	// Scan lifecycle
	scansTotal   *prometheus.CounterVec
	scanDuration prometheus.Histogram

	// Range list metrics
	rangesFetched *prometheus.CounterVec

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		probesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of candidate probes",
			},
			[]string{"strategy", "result"},
		),
		probeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Probe latency in seconds for settled probes",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		cleanEndpoints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clean_endpoints",
				Help:      "Clean endpoints found by the last completed scan",
			},
		),
		scannedCandidates: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scanned_candidates",
				Help:      "Candidates probed by the last completed scan",
			},
		),
		scansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total number of scans by outcome",
			},
			[]string{"outcome"},
		),
		scanDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of full scans in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		rangesFetched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ranges_fetched_total",
				Help:      "Total number of CIDR ranges fetched from sources",
			},
			[]string{"source"},
		),
		apiRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

func (c *Collector) RecordProbe(strategy string, succeeded bool) {
	result := "failure"
	if succeeded {
		result = "success"
	}
	c.probesTotal.WithLabelValues(strategy, result).Inc()
}

func (c *Collector) RecordProbeDuration(seconds float64) {
	c.probeDuration.Observe(seconds)
}

func (c *Collector) SetCleanEndpoints(count int) {
	c.cleanEndpoints.Set(float64(count))
}

func (c *Collector) SetScannedCandidates(count int) {
	c.scannedCandidates.Set(float64(count))
}

func (c *Collector) RecordScan(outcome string) {
	c.scansTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordScanDuration(seconds float64) {
	c.scanDuration.Observe(seconds)
}

func (c *Collector) RecordRangesFetched(source string, count int) {
	c.rangesFetched.WithLabelValues(source).Add(float64(count))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
