package tp

import "time"

// Clock provides monotonic millisecond timestamps. The engine compares
// timestamps only against each other, never against wall time.
type Clock interface {
	Now() int64
}

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a Clock backed by the runtime's monotonic reading.
func NewMonotonicClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Now() int64 {
	return time.Since(c.start).Milliseconds()
}

// timeExpired reports whether timeoutMs has elapsed since the timestamp.
func timeExpired(clock Clock, timestampMs int64, timeoutMs int64) bool {
	return clock.Now()-timestampMs >= timeoutMs
}
