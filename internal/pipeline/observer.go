package pipeline

import "time"

// Observer receives run and call lifecycle events. The pipeline holds no
// counters of its own; implementations decide what to record.
type Observer interface {
	RunStarted()
	RunFinished(outcome string, d time.Duration)
	CallStarted()
	CallFinished(status string, d time.Duration)
	CallRetried()
}

type nopObserver struct{}

func (nopObserver) RunStarted() {}
func (nopObserver) RunFinished(string, time.Duration) {}
func (nopObserver) CallStarted() {}
func (nopObserver) CallFinished(string, time.Duration) {}
func (nopObserver) CallRetried() {}
