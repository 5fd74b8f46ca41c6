// Package metrics records collage job instrumentation.
//
// Collector is implemented by Nop, which discards everything, and by
// Prometheus, which exposes counters and histograms on a registerer.
package metrics

// Collector receives job lifecycle measurements.
type Collector interface {
	// JobQueued records a job accepted into the queue.
	JobQueued()
	// JobRejected records a job refused because the queue was full.
	JobRejected()
	// JobFinished records a terminal job state ("completed" or "failed")
	// with its error code (empty on success) and run duration in seconds.
	JobFinished(status, code string, seconds float64)
	// JobStarted and JobStopped bracket one running job.
	JobStarted()
	JobStopped()
	// JobsEvicted records job store entries removed after their TTL.
	JobsEvicted(n int)
}

// Nop implements Collector and discards all measurements.
type Nop struct{}

var _ Collector = Nop{}

// NewNop returns a no-op collector.
func NewNop() Nop { return Nop{} }

func (Nop) JobQueued()                         {}
func (Nop) JobRejected()                       {}
func (Nop) JobFinished(_, _ string, _ float64) {}
func (Nop) JobStarted()                        {}
func (Nop) JobStopped()                        {}
func (Nop) JobsEvicted(int)                    {}
