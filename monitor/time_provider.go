package monitor

import "time"

// TimeProvider supplies the current time. Injecting a fake provider
// makes window eviction and throughput math deterministic in tests.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}
