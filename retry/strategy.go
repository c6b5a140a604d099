// Package retry provides the multiplier backoff used by consumers to re-schedule
// messages whose handler failed.
//
// The queue store itself never retries a message: a rejected message is gone.
// Retrying is consumer policy, implemented by sending a delayed copy of the
// message and counting attempts in a header.
package retry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CountHeader is the envelope header carrying the number of retries already made.
const CountHeader = "retry-count"

// Strategy defines how failed messages are re-scheduled.
//
// The delay before retry n (0-based) is min(BaseDelay * Multiplier^n, MaxDelay).
//
// Example with defaults (1s base, 2.0 multiplier, 1m max, 3 retries):
//
//	Retry 1: 1s
//	Retry 2: 2s
//	Retry 3: 4s
//	→ Reject
type Strategy struct {
	MaxRetries int           // Retries allowed after the first attempt
	BaseDelay  time.Duration // Delay before the first retry
	Multiplier float64       // Backoff multiplier (e.g., 2.0 for doubling)
	MaxDelay   time.Duration // Delay cap, 0 means uncapped
}

// DefaultStrategy returns the default retry strategy: 3 retries, 1s→1m doubling.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   time.Minute,
	}
}

// Delay returns how long to wait before the retry that follows retryCount
// previous retries.
func (s Strategy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 || s.Multiplier <= 1 {
		return s.capped(float64(s.BaseDelay))
	}

	return s.capped(float64(s.BaseDelay) * math.Pow(s.Multiplier, float64(retryCount)))
}

// maxDuration is the longest delay an uncapped strategy returns.
const maxDuration = time.Duration(math.MaxInt64)

func (s Strategy) capped(delay float64) time.Duration {
	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	switch {
	case math.IsNaN(delay): // zero base delay times an infinite factor
		return 0
	case delay >= float64(maxDuration): // float64(math.MaxInt64) is 2^63, past the range
		return maxDuration
	}
	return time.Duration(delay)
}

// IsRetryable reports whether a message that was already retried retryCount
// times may be retried again.
func (s Strategy) IsRetryable(retryCount int) bool {
	return retryCount < s.MaxRetries
}

// Schedule returns a human-readable description of the retry schedule.
//
// Example output:
//
//	Retry Schedule:
//	  Retry 1: after 1s
//	  Retry 2: after 2s
//	  Retry 3: after 4s
//	  → Reject
func (s Strategy) Schedule() string {
	var b strings.Builder
	b.WriteString("Retry Schedule:\n")
	for i := 0; i < s.MaxRetries; i++ {
		fmt.Fprintf(&b, "  Retry %d: after %v\n", i+1, s.Delay(i))
	}
	b.WriteString("  → Reject\n")
	return b.String()
}

// Count reads the retry count from headers. Missing or malformed values count as 0.
func Count(headers map[string]string) int {
	n, err := strconv.Atoi(headers[CountHeader])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
