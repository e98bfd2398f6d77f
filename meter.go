package quotagate

import "time"

// Meter observes admission decisions and flush cycles for monitoring/logging.
type Meter interface {
	// OnDecision is called for every TryConsume decision.
	OnDecision(event DecisionEvent)

	// OnFlush is called after every reconciliation attempt.
	OnFlush(event FlushEvent)
}

// DecisionEvent describes one admission decision.
type DecisionEvent struct {
	Key      string
	Tokens   int64
	Admitted bool
}

// FlushEvent describes one reconciliation cycle.
type FlushEvent struct {
	Deltas   int // queued deltas in the batch
	Keys     int // distinct keys after aggregation
	Duration time.Duration
	Err      error
}

type noopMeter struct{}

func (noopMeter) OnDecision(DecisionEvent) {}
func (noopMeter) OnFlush(FlushEvent)       {}
