package conform

import (
	"sync/atomic"

	"github.com/voocel/conform/process"
)

// Observer receives extraction lifecycle callbacks. All methods are
// called from the extraction goroutine, in order.
type Observer interface {
	OnAttemptStart(attempt, maxAttempts int)
	OnAgentOutput(attempt int, event process.OutputEvent)
	OnAttemptEnd(attempt int, record AttemptRecord)
	OnOutcome(outcome *Outcome)
}

// NoopObserver is the default no-op implementation.
type NoopObserver struct{}

func (NoopObserver) OnAttemptStart(attempt, maxAttempts int)              {}
func (NoopObserver) OnAgentOutput(attempt int, event process.OutputEvent) {}
func (NoopObserver) OnAttemptEnd(attempt int, record AttemptRecord)       {}
func (NoopObserver) OnOutcome(outcome *Outcome)                           {}

// CountingObserver provides simple counters over many extractions.
type CountingObserver struct {
	attempts    atomic.Int64
	outputLines atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
}

// CountingSnapshot is a point-in-time copy of the counters.
type CountingSnapshot struct {
	Attempts    int64
	OutputLines int64
	Successes   int64
	Failures    int64
}

func (o *CountingObserver) OnAttemptStart(attempt, maxAttempts int) {
	o.attempts.Add(1)
}

func (o *CountingObserver) OnAgentOutput(attempt int, event process.OutputEvent) {
	o.outputLines.Add(1)
}

func (o *CountingObserver) OnAttemptEnd(attempt int, record AttemptRecord) {}

func (o *CountingObserver) OnOutcome(outcome *Outcome) {
	if outcome.Succeeded() {
		o.successes.Add(1)
		return
	}
	o.failures.Add(1)
}

// Snapshot returns the current counter values.
func (o *CountingObserver) Snapshot() CountingSnapshot {
	return CountingSnapshot{
		Attempts:    o.attempts.Load(),
		OutputLines: o.outputLines.Load(),
		Successes:   o.successes.Load(),
		Failures:    o.failures.Load(),
	}
}

var (
	_ Observer = NoopObserver{}
	_ Observer = (*CountingObserver)(nil)
)
