// Package retry holds the backoff policy for failed async deliveries.
package retry

import "time"

// Policy computes retry delays: backoff = BaseBackoff * 2^retryCount,
// bounded by a maximum retry count. Retries for one delivery are
// sequential, so the delays of consecutive failures strictly double.
type Policy struct {
	BaseBackoff time.Duration
	MaxRetries  int
}

// Default mirrors the platform defaults: 10s base, 5 retries.
func Default() Policy {
	return Policy{BaseBackoff: 10 * time.Second, MaxRetries: 5}
}

// Delay returns the backoff before the retry following retryCount
// consecutive failures (retryCount starts at 0).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return p.BaseBackoff << uint(retryCount)
}

// Exhausted reports whether retryCount has reached the ceiling.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
