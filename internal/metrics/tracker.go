package metrics

import (
	"sync/atomic"
	"time"
)

// Tracker records pipeline lifecycle events into the package metrics and
// keeps the live counts read by Collector. It satisfies pipeline.Observer.
type Tracker struct {
	activeRuns    atomic.Int64
	inFlightCalls atomic.Int64
}

// NewTracker creates a tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) RunStarted() {
	t.activeRuns.Add(1)
}

func (t *Tracker) RunFinished(outcome string, d time.Duration) {
	t.activeRuns.Add(-1)
	PipelineRunsTotal.WithLabelValues(outcome).Inc()
	PipelineRunDuration.Observe(d.Seconds())
}

func (t *Tracker) CallStarted() {
	t.inFlightCalls.Add(1)
}

func (t *Tracker) CallFinished(status string, d time.Duration) {
	t.inFlightCalls.Add(-1)
	SegmentCallsTotal.WithLabelValues(status).Inc()
	SegmentCallDuration.Observe(d.Seconds())
}

func (t *Tracker) CallRetried() {
	SegmentRetriesTotal.Inc()
}

// ActiveRuns returns the number of runs in progress.
func (t *Tracker) ActiveRuns() int64 { return t.activeRuns.Load() }

// InFlightCalls returns the number of transcription calls awaiting a response.
func (t *Tracker) InFlightCalls() int64 { return t.inFlightCalls.Load() }
