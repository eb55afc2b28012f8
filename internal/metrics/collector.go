package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline state.
type PipelineStats interface {
	ActiveRuns() int64
	InFlightCalls() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats     PipelineStats
	transcode func() bool

	activeRuns         *prometheus.Desc
	inFlightCalls      *prometheus.Desc
	transcodeAvailable *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (gauges report 0). transcode may be nil.
func NewCollector(stats PipelineStats, transcode func() bool) *Collector {
	return &Collector{
		stats:     stats,
		transcode: transcode,
		activeRuns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "active_runs"),
			"Pipeline runs currently in progress.",
			nil, nil,
		),
		inFlightCalls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "segment", "calls_in_flight"),
			"Transcription calls currently awaiting a response.",
			nil, nil,
		),
		transcodeAvailable: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcoder_available"),
			"1 if ffmpeg transcoding is available for non-WAV uploads.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeRuns
	ch <- c.inFlightCalls
	ch <- c.transcodeAvailable
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var runs, calls float64
	if c.stats != nil {
		runs = float64(c.stats.ActiveRuns())
		calls = float64(c.stats.InFlightCalls())
	}
	ch <- prometheus.MustNewConstMetric(c.activeRuns, prometheus.GaugeValue, runs)
	ch <- prometheus.MustNewConstMetric(c.inFlightCalls, prometheus.GaugeValue, calls)

	var available float64
	if c.transcode != nil && c.transcode() {
		available = 1
	}
	ch <- prometheus.MustNewConstMetric(c.transcodeAvailable, prometheus.GaugeValue, available)
}
